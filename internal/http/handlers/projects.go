package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/akmhq/akm-api/internal/models"
	"github.com/akmhq/akm-api/internal/service"
)

// ProjectHandler handles project endpoints. These are administrative:
// the routes guard them with project scopes.
type ProjectHandler struct {
	projectSvc *service.ProjectService
}

// NewProjectHandler creates a new project handler.
func NewProjectHandler(projectSvc *service.ProjectService) *ProjectHandler {
	return &ProjectHandler{projectSvc: projectSvc}
}

// ProjectResponse represents a project in responses.
type ProjectResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Prefix      string `json:"prefix"`
	Description string `json:"description,omitempty"`
	IsActive    bool   `json:"is_active"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

func toProjectResponse(p *models.Project) ProjectResponse {
	return ProjectResponse{
		ID:          p.ID,
		Name:        p.Name,
		Prefix:      p.Prefix,
		Description: p.Description,
		IsActive:    p.IsActive,
		CreatedAt:   fmtTime(p.CreatedAt),
		UpdatedAt:   fmtTime(p.UpdatedAt),
	}
}

// ListProjectsInput represents project list parameters.
type ListProjectsInput struct {
	Limit  int `query:"limit" doc:"Page size (default 50, max 100)"`
	Offset int `query:"offset" doc:"Page offset"`
}

// ListProjectsOutput represents project list response.
type ListProjectsOutput struct {
	Body struct {
		Projects []ProjectResponse `json:"projects"`
	}
}

// ListProjects handles listing projects.
func (h *ProjectHandler) ListProjects(ctx context.Context, input *ListProjectsInput) (*ListProjectsOutput, error) {
	projects, err := h.projectSvc.List(ctx, input.Limit, input.Offset)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list projects")
	}

	out := &ListProjectsOutput{}
	for _, p := range projects {
		out.Body.Projects = append(out.Body.Projects, toProjectResponse(p))
	}
	return out, nil
}

// CreateProjectInput represents project creation request.
type CreateProjectInput struct {
	Body struct {
		Name        string `json:"name" minLength:"1" doc:"Unique project name"`
		Prefix      string `json:"prefix,omitempty" doc:"Key prefix namespace (default akm)"`
		Description string `json:"description,omitempty"`
	}
}

// CreateProjectOutput represents project creation response.
type CreateProjectOutput struct {
	Body ProjectResponse
}

// CreateProject handles project creation.
func (h *ProjectHandler) CreateProject(ctx context.Context, input *CreateProjectInput) (*CreateProjectOutput, error) {
	project := &models.Project{
		Name:        input.Body.Name,
		Prefix:      input.Body.Prefix,
		Description: input.Body.Description,
	}
	if err := h.projectSvc.Create(ctx, project); err != nil {
		return nil, huma.Error400BadRequest(err.Error())
	}
	return &CreateProjectOutput{Body: toProjectResponse(project)}, nil
}

// GetProjectInput represents a single project lookup.
type GetProjectInput struct {
	ID string `path:"id" doc:"Project ID"`
}

// GetProjectOutput represents a single project response.
type GetProjectOutput struct {
	Body ProjectResponse
}

// GetProject handles fetching one project.
func (h *ProjectHandler) GetProject(ctx context.Context, input *GetProjectInput) (*GetProjectOutput, error) {
	project, err := h.projectSvc.Get(ctx, input.ID)
	if err != nil {
		return nil, mapError(err, "failed to get project")
	}
	return &GetProjectOutput{Body: toProjectResponse(project)}, nil
}

// UpdateProjectInput represents project update request.
type UpdateProjectInput struct {
	ID   string `path:"id" doc:"Project ID"`
	Body struct {
		Name        string `json:"name,omitempty"`
		Description string `json:"description,omitempty"`
		IsActive    *bool  `json:"is_active,omitempty"`
	}
}

// UpdateProjectOutput represents project update response.
type UpdateProjectOutput struct {
	Body ProjectResponse
}

// UpdateProject handles project updates.
func (h *ProjectHandler) UpdateProject(ctx context.Context, input *UpdateProjectInput) (*UpdateProjectOutput, error) {
	project, err := h.projectSvc.Get(ctx, input.ID)
	if err != nil {
		return nil, mapError(err, "failed to get project")
	}

	if input.Body.Name != "" {
		project.Name = input.Body.Name
	}
	if input.Body.Description != "" {
		project.Description = input.Body.Description
	}
	if input.Body.IsActive != nil {
		project.IsActive = *input.Body.IsActive
	}

	if err := h.projectSvc.Update(ctx, project); err != nil {
		return nil, mapError(err, "failed to update project")
	}
	return &UpdateProjectOutput{Body: toProjectResponse(project)}, nil
}

// DeleteProjectInput represents project deletion request.
type DeleteProjectInput struct {
	ID string `path:"id" doc:"Project ID"`
}

// DeleteProjectOutput represents project deletion response.
type DeleteProjectOutput struct {
	Body struct {
		Success bool `json:"success"`
	}
}

// DeleteProject handles project deletion. Keys, webhooks and settings
// owned by the project cascade with it.
func (h *ProjectHandler) DeleteProject(ctx context.Context, input *DeleteProjectInput) (*DeleteProjectOutput, error) {
	if err := h.projectSvc.Delete(ctx, input.ID); err != nil {
		return nil, mapError(err, "failed to delete project")
	}
	out := &DeleteProjectOutput{}
	out.Body.Success = true
	return out, nil
}
