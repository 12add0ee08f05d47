/**
 * @description
 * pgx-backed purchase-session repository. Sessions are stored as a single
 * JSONB snapshot keyed by session id; the 3DS completion handlers read them
 * back to resume a purchase.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5/pgxpool: PostgreSQL connection pooling.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/velora/purchase-service/internal/domain"
)

// PostgresRepository implements Repository on a pgx pool.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates the repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// SaveSession inserts a new purchase session snapshot.
func (r *PostgresRepository) SaveSession(ctx context.Context, session *domain.PurchaseSession) error {
	payload, err := encodeSession(session)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	session.CreatedAt = now
	session.UpdatedAt = now
	query := `
		INSERT INTO purchase_sessions (id, site_id, biller_name, payload, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err = r.db.Exec(ctx, query, session.SessionID, session.SiteID, string(session.BillerName), payload, session.CreatedAt, session.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save purchase session: %w", err)
	}
	return nil
}

// FindSession loads a session snapshot by id.
func (r *PostgresRepository) FindSession(ctx context.Context, sessionID uuid.UUID) (*domain.PurchaseSession, error) {
	query := `
		SELECT payload, created_at, updated_at
		FROM purchase_sessions
		WHERE id = $1`
	var payload []byte
	session := &domain.PurchaseSession{SessionID: sessionID}
	err := r.db.QueryRow(ctx, query, sessionID).Scan(&payload, &session.CreatedAt, &session.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to find purchase session: %w", err)
	}
	if err := decodeSession(session, payload); err != nil {
		return nil, err
	}
	return session, nil
}

// UpdateSession replaces a session snapshot after new attempts were recorded.
func (r *PostgresRepository) UpdateSession(ctx context.Context, session *domain.PurchaseSession) error {
	payload, err := encodeSession(session)
	if err != nil {
		return err
	}
	session.UpdatedAt = time.Now().UTC()
	query := `
		UPDATE purchase_sessions
		SET payload = $2, biller_name = $3, updated_at = $4
		WHERE id = $1`
	tag, err := r.db.Exec(ctx, query, session.SessionID, payload, string(session.BillerName), session.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update purchase session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}
