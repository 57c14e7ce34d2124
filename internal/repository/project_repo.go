package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/akmhq/akm-api/internal/models"
)

// SQLiteProjectRepository implements ProjectRepository for SQLite/libsql.
type SQLiteProjectRepository struct {
	db *sql.DB
}

// NewSQLiteProjectRepository creates a new SQLite project repository.
func NewSQLiteProjectRepository(db *sql.DB) *SQLiteProjectRepository {
	return &SQLiteProjectRepository{db: db}
}

// Create creates a new project.
func (r *SQLiteProjectRepository) Create(ctx context.Context, project *models.Project) error {
	now := time.Now().UTC()

	if project.ID == "" {
		project.ID = ulid.Make().String()
	}
	if project.Prefix == "" {
		project.Prefix = "akm"
	}
	project.CreatedAt = now
	project.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO projects (id, name, prefix, description, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, project.ID, project.Name, project.Prefix, project.Description, project.IsActive,
		now.Format(time.RFC3339), now.Format(time.RFC3339))

	return err
}

// GetByID retrieves a project by ID.
func (r *SQLiteProjectRepository) GetByID(ctx context.Context, id string) (*models.Project, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, prefix, description, is_active, created_at, updated_at
		FROM projects
		WHERE id = ?
	`, id)

	return r.scanProject(row)
}

// GetByName retrieves a project by its unique name.
func (r *SQLiteProjectRepository) GetByName(ctx context.Context, name string) (*models.Project, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, prefix, description, is_active, created_at, updated_at
		FROM projects
		WHERE name = ?
	`, name)

	return r.scanProject(row)
}

// List retrieves projects ordered by name.
func (r *SQLiteProjectRepository) List(ctx context.Context, limit, offset int) ([]*models.Project, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, prefix, description, is_active, created_at, updated_at
		FROM projects
		ORDER BY name
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var projects []*models.Project
	for rows.Next() {
		project, err := r.scanProjectRow(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, project)
	}

	return projects, rows.Err()
}

// Update updates an existing project.
func (r *SQLiteProjectRepository) Update(ctx context.Context, project *models.Project) error {
	project.UpdatedAt = time.Now().UTC()

	_, err := r.db.ExecContext(ctx, `
		UPDATE projects
		SET name = ?, prefix = ?, description = ?, is_active = ?, updated_at = ?
		WHERE id = ?
	`, project.Name, project.Prefix, project.Description, project.IsActive,
		project.UpdatedAt.Format(time.RFC3339), project.ID)

	return err
}

// Delete deletes a project by ID. Keys, webhooks, and settings cascade.
func (r *SQLiteProjectRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id)
	return err
}

func (r *SQLiteProjectRepository) scanProject(row *sql.Row) (*models.Project, error) {
	var project models.Project
	var description sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(
		&project.ID,
		&project.Name,
		&project.Prefix,
		&description,
		&project.IsActive,
		&createdAt,
		&updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	project.Description = description.String
	project.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	project.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)

	return &project, nil
}

func (r *SQLiteProjectRepository) scanProjectRow(rows *sql.Rows) (*models.Project, error) {
	var project models.Project
	var description sql.NullString
	var createdAt, updatedAt string

	err := rows.Scan(
		&project.ID,
		&project.Name,
		&project.Prefix,
		&description,
		&project.IsActive,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	project.Description = description.String
	project.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	project.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)

	return &project, nil
}
