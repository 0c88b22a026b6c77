package store

import (
	"context"

	"github.com/joescharf/courseforge/internal/models"
)

// RunListFilter specifies filters for listing runs.
type RunListFilter struct {
	MachineID string
	Status    models.RunStatus
	Limit     int
}

// Store defines the persistence interface for run and course history.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, run *models.Run) error
	UpdateRun(ctx context.Context, run *models.Run) error
	GetRun(ctx context.Context, id string) (*models.Run, error)
	ListRuns(ctx context.Context, filter RunListFilter) ([]*models.Run, error)

	// Courses
	UpsertCourse(ctx context.Context, c *models.Course) error
	GetCourse(ctx context.Context, id string) (*models.Course, error)
	ListCourses(ctx context.Context, limit int) ([]*models.Course, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
