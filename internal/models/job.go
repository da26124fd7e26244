package models

import (
	"time"
)

// Deletion job lifecycle states persisted in Postgres.
const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// DeletionJob is one storage object scheduled for deletion. Rows are never
// removed; terminal rows remain as the audit trail.
type DeletionJob struct {
	ID          string     `json:"id"`
	TribeID     string     `json:"tribe_id"`
	EventID     *string    `json:"event_id,omitempty"`
	Bucket      string     `json:"bucket"`
	ObjectPath  string     `json:"object_path"`
	Status      string     `json:"status"`
	Attempts    int        `json:"attempts"`
	LastError   *string    `json:"last_error,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedBy   string     `json:"created_by"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Tribe is the slice of a community row this service reads and soft-deletes.
// The full entity is owned by the CRUD application.
type Tribe struct {
	ID        string  `json:"id"`
	OwnerID   string  `json:"owner_id"`
	Name      string  `json:"name"`
	CoverURL  *string `json:"cover_url,omitempty"`
	IsDeleted bool    `json:"is_deleted"`
}

// Event is the slice of an event row this service reads and soft-cancels.
type Event struct {
	ID          string  `json:"id"`
	TribeID     string  `json:"tribe_id"`
	BannerURL   *string `json:"banner_url,omitempty"`
	IsCancelled bool    `json:"is_cancelled"`
}
