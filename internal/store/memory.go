package store

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"teamsync/internal/model"
)

// Memory is a simple in-memory store used when no DATABASE_URL is set.
type Memory struct {
	mu      sync.Mutex
	teams   map[string]model.Team          // id -> team
	prompts map[string]model.ReflectPrompt // id -> prompt
	tasks   map[string]model.Task          // id -> task
}

func NewMemory() *Memory {
	return &Memory{
		teams:   map[string]model.Team{},
		prompts: map[string]model.ReflectPrompt{},
		tasks:   map[string]model.Task{},
	}
}

// NewDemoMemory returns a memory store seeded with one team, a template with
// two prompts, and a few tasks, so a fresh server is usable right away.
func NewDemoMemory() *Memory {
	m := NewMemory()
	now := time.Now().UTC()
	m.PutTeam(model.Team{ID: "team1", Name: "Demo Team"})
	m.PutPrompt(model.ReflectPrompt{ID: "prompt1", TeamID: "team1", TemplateID: "tpl1", Question: "What went well?", SortOrder: 0, IsActive: true, CreatedAt: now, UpdatedAt: now})
	m.PutPrompt(model.ReflectPrompt{ID: "prompt2", TeamID: "team1", TemplateID: "tpl1", Question: "What could be improved?", SortOrder: 1, IsActive: true, CreatedAt: now, UpdatedAt: now})
	m.PutTask(model.Task{ID: "task1", TeamID: "team1", UserID: "user1", Content: "Ship the board", UpdatedAt: now})
	m.PutTask(model.Task{ID: "task2", TeamID: "team1", UserID: "user1", Content: "Old idea", Tags: []string{model.TagArchived}, UpdatedAt: now})
	m.PutTask(model.Task{ID: "task3", TeamID: "team1", UserID: "user2", Content: "Secret", Tags: []string{model.TagArchived, model.TagPrivate}, UpdatedAt: now})
	return m
}

// PutTeam, PutPrompt and PutTask insert or replace records directly.
func (m *Memory) PutTeam(t model.Team) {
	m.mu.Lock()
	m.teams[t.ID] = t
	m.mu.Unlock()
}

func (m *Memory) PutPrompt(p model.ReflectPrompt) {
	m.mu.Lock()
	m.prompts[p.ID] = p
	m.mu.Unlock()
}

func (m *Memory) PutTask(t model.Task) {
	t.Tags = slices.Clone(t.Tags)
	m.mu.Lock()
	m.tasks[t.ID] = t
	m.mu.Unlock()
}

func (m *Memory) Ping(ctx context.Context) error { return nil }

func (m *Memory) GetTeam(ctx context.Context, teamID string) (model.Team, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.teams[teamID]
	if !ok {
		return model.Team{}, ErrNotFound
	}
	return t, nil
}

func (m *Memory) GetPrompt(ctx context.Context, promptID string) (model.ReflectPrompt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.prompts[promptID]
	if !ok {
		return model.ReflectPrompt{}, ErrNotFound
	}
	return p, nil
}

func (m *Memory) ListPrompts(ctx context.Context, templateID string) ([]model.ReflectPrompt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.ReflectPrompt{}
	for _, p := range m.prompts {
		if p.TemplateID == templateID && p.IsActive {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SortOrder < out[j].SortOrder })
	return out, nil
}

func (m *Memory) CountActivePrompts(ctx context.Context, teamID, templateID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, p := range m.prompts {
		if p.TeamID == teamID && p.TemplateID == templateID && p.IsActive {
			n++
		}
	}
	return n, nil
}

func (m *Memory) AddPrompt(ctx context.Context, p model.ReflectPrompt) (model.ReflectPrompt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.teams[p.TeamID]; !ok {
		return model.ReflectPrompt{}, fmt.Errorf("team %s: %w", p.TeamID, ErrNotFound)
	}
	var maxSort float64 = -1
	for _, q := range m.prompts {
		if q.TemplateID != p.TemplateID || !q.IsActive {
			continue
		}
		if q.Question == p.Question {
			return model.ReflectPrompt{}, fmt.Errorf("prompt %q: %w", p.Question, ErrConflict)
		}
		if q.SortOrder > maxSort {
			maxSort = q.SortOrder
		}
	}
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	p.SortOrder = maxSort + 1
	p.IsActive = true
	m.prompts[p.ID] = p
	return p, nil
}

func (m *Memory) DeactivatePrompt(ctx context.Context, promptID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.prompts[promptID]
	if !ok {
		return ErrNotFound
	}
	p.IsActive = false
	p.UpdatedAt = at
	m.prompts[promptID] = p
	return nil
}

func (m *Memory) GetTask(ctx context.Context, taskID string) (model.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[taskID]
	if !ok {
		return model.Task{}, ErrNotFound
	}
	t.Tags = slices.Clone(t.Tags)
	return t, nil
}

func (m *Memory) UpdateTask(ctx context.Context, taskID string, patch model.TaskPatch, at time.Time) (model.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[taskID]
	if !ok {
		return model.Task{}, ErrNotFound
	}
	if patch.Content != nil {
		t.Content = *patch.Content
	}
	if patch.Tags != nil {
		t.Tags = slices.Clone(patch.Tags)
	}
	t.UpdatedAt = at
	m.tasks[taskID] = t
	t.Tags = slices.Clone(t.Tags)
	return t, nil
}

func (m *Memory) CountArchivedTasks(ctx context.Context, teamID, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.tasks {
		if t.TeamID != teamID || !t.IsArchived() {
			continue
		}
		if t.IsPrivate() && t.UserID != userID {
			continue
		}
		n++
	}
	return n, nil
}
