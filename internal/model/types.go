package model

import (
	"slices"
	"time"
)

// Core domain types

type Team struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ReflectPrompt is one prompt of a team's reflect template.
type ReflectPrompt struct {
	ID         string    `json:"id"`
	TeamID     string    `json:"teamId"`
	TemplateID string    `json:"templateId"`
	Question   string    `json:"question"`
	SortOrder  float64   `json:"sortOrder"`
	IsActive   bool      `json:"isActive"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

type Task struct {
	ID        string    `json:"id"`
	TeamID    string    `json:"teamId"`
	UserID    string    `json:"userId"` // owner
	Content   string    `json:"content"`
	Tags      []string  `json:"tags"`
	UpdatedAt time.Time `json:"updatedAt"`
}

const (
	TagPrivate  = "private"
	TagArchived = "archived"
)

// IsPrivate reports whether only the owner may see the task.
func (t Task) IsPrivate() bool { return slices.Contains(t.Tags, TagPrivate) }

// IsArchived reports whether the task carries the archived tag.
func (t Task) IsArchived() bool { return slices.Contains(t.Tags, TagArchived) }

// TaskPatch is a partial task update; nil fields are left alone.
type TaskPatch struct {
	Content *string  `json:"content,omitempty"`
	Tags    []string `json:"tags,omitempty"`
}
