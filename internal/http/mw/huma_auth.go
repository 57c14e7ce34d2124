package mw

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/akmhq/akm-api/internal/scopes"
)

// SecurityScheme is the name of the security scheme used in OpenAPI.
const SecurityScheme = "bearerAuth"

// OperationMetadataKey is the key for storing additional operation requirements.
type OperationMetadataKey string

const (
	// MetaKeyRequireScope is the metadata key for the required permission scope.
	MetaKeyRequireScope OperationMetadataKey = "requireScope"
)

// HumaScopes returns a Huma middleware that enforces per-operation scope
// requirements against the authenticated key's grants. The chi Auth
// middleware must run first; operations without a scope requirement pass
// through untouched.
func HumaScopes(api huma.API) func(ctx huma.Context, next func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		op := ctx.Operation()
		if op == nil {
			next(ctx)
			return
		}

		required := requiredScope(op)
		if required == "" {
			next(ctx)
			return
		}

		claims, ok := GetKeyClaims(ctx.Context())
		if !ok {
			huma.WriteErr(api, ctx, http.StatusUnauthorized, "authentication required")
			return
		}

		if !scopes.Allowed(claims.Scopes, required) {
			huma.WriteErr(api, ctx, http.StatusForbidden, "missing required scope: "+required)
			return
		}

		next(ctx)
	}
}

// requiredScope returns the scope required by the operation, if any.
func requiredScope(op *huma.Operation) string {
	if op.Metadata == nil {
		return ""
	}
	if val, ok := op.Metadata[string(MetaKeyRequireScope)]; ok {
		if s, ok := val.(string); ok {
			return s
		}
	}
	return ""
}
