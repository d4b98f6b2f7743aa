package store

import "time"

type User struct {
	ID           string
	Name         string
	Email        string
	PasswordHash string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type TaskList struct {
	ID          string
	Title       string
	Description string
	Color       string
	IsArchived  bool
	OwnerID     string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	// Joined fields for API responses
	OwnerName  string
	OwnerEmail string
	TaskCount  int
	ShareCount int
	// SharePermission holds the caller's share row permission when the
	// list was loaded scoped to a user; empty for the owner.
	SharePermission string
	// Permission is the caller's effective permission, filled by the
	// service layer.
	Permission string
}

type ListShare struct {
	ID         string
	ListID     string
	UserID     string
	Permission string
	CreatedAt  time.Time
	// Joined fields for API responses
	UserName  string
	UserEmail string
}

type Task struct {
	ID          string
	ListID      string
	Title       string
	Description string
	Completed   bool
	Priority    string
	DueDate     *time.Time
	Position    int
	CreatedAt   time.Time
	UpdatedAt   time.Time
	// Joined fields for API responses
	CommentCount int
}

type Comment struct {
	ID        string
	TaskID    string
	UserID    string
	Content   string
	CreatedAt time.Time
	UpdatedAt time.Time
	// Joined fields for API responses
	UserName  string
	UserEmail string
	// ListID is the parent task's list, joined for permission checks.
	ListID string
}

type RefreshToken struct {
	ID        string
	UserID    string
	Token     string
	ExpiresAt time.Time
	CreatedAt time.Time
}
