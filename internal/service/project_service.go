package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/akmhq/akm-api/internal/events"
	"github.com/akmhq/akm-api/internal/models"
	"github.com/akmhq/akm-api/internal/repository"
)

// ProjectService handles project CRUD.
type ProjectService struct {
	repos  *repository.Repositories
	bus    *events.Bus
	logger *slog.Logger
}

// NewProjectService creates a project service.
func NewProjectService(repos *repository.Repositories, bus *events.Bus, logger *slog.Logger) *ProjectService {
	return &ProjectService{
		repos:  repos,
		bus:    bus,
		logger: logger.With("component", "projects"),
	}
}

// Create registers a new project. Names are unique service-wide.
func (s *ProjectService) Create(ctx context.Context, project *models.Project) error {
	existing, err := s.repos.Project.GetByName(ctx, project.Name)
	if err != nil {
		return err
	}
	if existing != nil {
		return fmt.Errorf("project %q already exists", project.Name)
	}

	project.IsActive = true
	if project.Prefix == "" {
		project.Prefix = "akm"
	}
	if err := s.repos.Project.Create(ctx, project); err != nil {
		return err
	}

	s.logger.Info("project created", "project_id", project.ID, "name", project.Name)
	s.bus.Publish(models.Event{
		Type:      models.EventProjectCreated,
		ProjectID: project.ID,
		Data:      map[string]any{"name": project.Name},
	})
	return nil
}

// Get returns one project.
func (s *ProjectService) Get(ctx context.Context, id string) (*models.Project, error) {
	project, err := s.repos.Project.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if project == nil {
		return nil, ErrProjectNotFound
	}
	return project, nil
}

// List returns a page of projects.
func (s *ProjectService) List(ctx context.Context, limit, offset int) ([]*models.Project, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.repos.Project.List(ctx, limit, offset)
}

// Update applies changes to a project.
func (s *ProjectService) Update(ctx context.Context, project *models.Project) error {
	if _, err := s.Get(ctx, project.ID); err != nil {
		return err
	}
	return s.repos.Project.Update(ctx, project)
}

// Delete removes a project; its keys, settings and webhooks cascade.
func (s *ProjectService) Delete(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return s.repos.Project.Delete(ctx, id)
}
