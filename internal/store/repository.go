/**
 * @description
 * Data-access contract for purchase sessions. The orchestration core talks
 * to this interface; the pgx-backed implementation lives alongside it and an
 * in-memory stub stands in for tests.
 */

package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/velora/purchase-service/internal/domain"
)

// ErrSessionNotFound aliases the domain sentinel so store callers can match
// either.
var ErrSessionNotFound = domain.ErrSessionNotFound

// Repository persists resumable purchase sessions.
type Repository interface {
	SaveSession(ctx context.Context, session *domain.PurchaseSession) error
	FindSession(ctx context.Context, sessionID uuid.UUID) (*domain.PurchaseSession, error)
	UpdateSession(ctx context.Context, session *domain.PurchaseSession) error
}

// IsNotFound reports whether err is a missing-session error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrSessionNotFound)
}
