package store

import (
	"context"
	"errors"
	"time"

	"teamsync/internal/model"
)

// Store is the persistence interface used by the resolvers.
type Store interface {
	Ping(ctx context.Context) error

	// Teams
	GetTeam(ctx context.Context, teamID string) (model.Team, error)

	// Reflect template prompts
	GetPrompt(ctx context.Context, promptID string) (model.ReflectPrompt, error)
	ListPrompts(ctx context.Context, templateID string) ([]model.ReflectPrompt, error)
	CountActivePrompts(ctx context.Context, teamID, templateID string) (int, error)
	AddPrompt(ctx context.Context, p model.ReflectPrompt) (model.ReflectPrompt, error)
	DeactivatePrompt(ctx context.Context, promptID string, at time.Time) error

	// Tasks
	GetTask(ctx context.Context, taskID string) (model.Task, error)
	UpdateTask(ctx context.Context, taskID string, patch model.TaskPatch, at time.Time) (model.Task, error)
	// CountArchivedTasks counts archived tasks of a team; private ones only when owned by userID.
	CountArchivedTasks(ctx context.Context, teamID, userID string) (int, error)
}

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)
