// Package store persists conversation threads and generation sessions.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ashureev/catalyze/internal/domain"
)

var (
	// ErrThreadNotFound is returned when a thread id has no stored state.
	ErrThreadNotFound = errors.New("thread not found")
	// ErrSessionNotFound is returned when a generation session id is unknown.
	ErrSessionNotFound = errors.New("generation session not found")
)

// Entity kinds tracked per thread.
const (
	EntityCompound  = "compound"
	EntityProtocol  = "protocol"
	EntityEquipment = "equipment"
)

// StoredMessage is one persisted conversation turn.
type StoredMessage struct {
	Role      string
	Content   string
	CreatedAt time.Time
}

// Entity is a named thing mentioned in a thread.
type Entity struct {
	Kind  string
	Value string
}

// Repository defines the persistence operations used by the service.
type Repository interface {
	// AppendMessage stores a message, creating the thread on first use.
	// It reports whether the thread was created by this call.
	AppendMessage(ctx context.Context, threadID string, msg StoredMessage, entities []Entity) (bool, error)

	// RecentMessages returns up to limit messages, oldest first.
	RecentMessages(ctx context.Context, threadID string, limit int) ([]StoredMessage, error)

	// ThreadEntities returns the thread's entities in first-seen order.
	ThreadEntities(ctx context.Context, threadID string) ([]Entity, error)

	// ClearThread removes a thread and everything attached to it.
	ClearThread(ctx context.Context, threadID string) error

	// PurgeIdleThreads removes threads not updated within ttl.
	PurgeIdleThreads(ctx context.Context, ttl time.Duration) (int64, error)

	// SaveGenerationSession upserts a generation session.
	SaveGenerationSession(ctx context.Context, s *domain.GenerationSession) error

	// GetGenerationSession loads a generation session by id.
	GetGenerationSession(ctx context.Context, id string) (*domain.GenerationSession, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
