// Package idempotency remembers guarded requests so that a retried request is answered
// with the original response instead of running twice.
package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// State is the verdict of Begin.
type State string

const (
	// StateNew means the caller owns the key and must run the request, then call Complete.
	StateNew State = "new"
	// StateReplay means the request already finished. Cached holds its response.
	StateReplay State = "replay"
	// StateInProgress means another request with the same key is still running.
	StateInProgress State = "in_progress"
	// StateConflict means the key belongs to a different user.
	StateConflict State = "conflict"
)

const (
	DefaultTTL        = 48 * time.Hour
	DefaultStaleAfter = 10 * time.Minute
)

// ErrNotInProgress is returned by Complete when the record is missing or already completed.
var ErrNotInProgress = errors.New("idempotency: record is not in progress")

// CachedResponse is the response replayed for a completed key, byte for byte.
type CachedResponse struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// BeginParams describes the request that wants to claim a key.
type BeginParams struct {
	Key         string
	UserID      *uuid.UUID
	Method      string
	Path        string
	Action      string
	RequestHash string
	// TTL bounds how long the record, and so the guarantee, lives.
	TTL time.Duration
	// StaleAfter lets a new request take over an in_progress record that has not been
	// touched for this long. Zero disables takeover.
	StaleAfter time.Duration
}

// BeginResult is returned by Begin.
type BeginResult struct {
	State  State
	Cached *CachedResponse
	// HashMismatch is set when the stored request hash differs from the one presented.
	HashMismatch bool
	// Reclaimed is set when StateNew was granted by taking over a stale record.
	Reclaimed bool
}

// Store is the shared record of guarded requests. Implementations must be safe across
// processes: the first Begin for a key wins and every other caller observes in_progress
// or the completed response.
type Store interface {
	Begin(ctx context.Context, p BeginParams) (BeginResult, error)
	Complete(ctx context.Context, key string, resp CachedResponse) error
	PurgeExpired(ctx context.Context, now time.Time, batch int) (int64, error)
}

func ownerOf(userID *uuid.UUID) string {
	if userID == nil || *userID == uuid.Nil {
		return ""
	}
	return userID.String()
}
