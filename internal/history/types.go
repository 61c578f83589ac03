package history

import (
	"context"
	"errors"
)

// Role tags one side of a conversation turn.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Turn is a single role-tagged message in a project transcript.
type Turn struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

var (
	// ErrNotFound reports that no transcript exists for the project.
	ErrNotFound = errors.New("transcript not found")
	// ErrMalformed reports that a stored transcript could not be decoded.
	ErrMalformed = errors.New("transcript malformed")
)

// Store persists per-project conversation transcripts. Save overwrites the
// whole transcript; partial appends are not part of the contract.
type Store interface {
	Load(ctx context.Context, projectID string) ([]Turn, error)
	Save(ctx context.Context, projectID string, turns []Turn) error
	Close() error
}
