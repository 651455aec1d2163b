package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/soloras/hub-agent/internal/database"
	"github.com/soloras/hub-agent/internal/model"
)

type PairingSessionRepository interface {
	FindByID(ctx context.Context, id string) (*model.PairingSession, error)
	// FindOpenByCode returns the pending or claimed session holding code.
	FindOpenByCode(ctx context.Context, code string) (*model.PairingSession, error)
	Create(ctx context.Context, params model.CreatePairingSessionParams) (*model.PairingSession, error)
	// MarkClaimed and MarkPaired return ErrNotUpdated when the session is no
	// longer open.
	MarkClaimed(ctx context.Context, id string, userID string) error
	MarkPaired(ctx context.Context, id string, hubID string, issuedToken *string) error
	MarkExpired(ctx context.Context, id string) error
	// ExpireStale moves open sessions past their deadline to expired.
	ExpireStale(ctx context.Context) (int64, error)
	// DeleteFinished removes terminal sessions whose deadline passed before cutoff.
	DeleteFinished(ctx context.Context, cutoff time.Time) (int64, error)
	WithTx(tx *sqlx.Tx) PairingSessionRepository
}

type pairingSessionRepo struct {
	db database.DBTX
}

func NewPairingSessionRepository(db *sqlx.DB) PairingSessionRepository {
	return &pairingSessionRepo{db: db}
}

func (r *pairingSessionRepo) WithTx(tx *sqlx.Tx) PairingSessionRepository {
	return &pairingSessionRepo{db: tx}
}

func (r *pairingSessionRepo) FindByID(ctx context.Context, id string) (*model.PairingSession, error) {
	var s model.PairingSession
	err := r.db.GetContext(ctx, &s, `
		SELECT * FROM pairing_sessions WHERE id = $1
	`, id)
	return HandleNotFound(&s, err)
}

func (r *pairingSessionRepo) FindOpenByCode(ctx context.Context, code string) (*model.PairingSession, error) {
	var s model.PairingSession
	err := r.db.GetContext(ctx, &s, `
		SELECT * FROM pairing_sessions
		WHERE code = $1 AND status IN ('pending', 'claimed')
	`, code)
	return HandleNotFound(&s, err)
}

func (r *pairingSessionRepo) Create(ctx context.Context, params model.CreatePairingSessionParams) (*model.PairingSession, error) {
	var s model.PairingSession
	err := r.db.GetContext(ctx, &s, `
		INSERT INTO pairing_sessions (id, code, kind, hub_id, client_ip, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING *
	`, params.ID, params.Code, params.Kind, params.HubID, params.ClientIP, params.ExpiresAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *pairingSessionRepo) MarkClaimed(ctx context.Context, id string, userID string) error {
	return expectUpdated(r.db.ExecContext(ctx, `
		UPDATE pairing_sessions SET
			status = 'claimed',
			user_id = $2,
			claimed_at = $3
		WHERE id = $1 AND status = 'pending'
	`, id, userID, time.Now()))
}

func (r *pairingSessionRepo) MarkPaired(ctx context.Context, id string, hubID string, issuedToken *string) error {
	return expectUpdated(r.db.ExecContext(ctx, `
		UPDATE pairing_sessions SET
			status = 'paired',
			hub_id = $2,
			issued_token = $3,
			paired_at = $4
		WHERE id = $1 AND status IN ('pending', 'claimed')
	`, id, hubID, issuedToken, time.Now()))
}

func (r *pairingSessionRepo) MarkExpired(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE pairing_sessions SET status = 'expired'
		WHERE id = $1 AND status IN ('pending', 'claimed')
	`, id)
	return err
}

func (r *pairingSessionRepo) ExpireStale(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE pairing_sessions SET status = 'expired'
		WHERE status IN ('pending', 'claimed') AND expires_at < NOW()
	`)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *pairingSessionRepo) DeleteFinished(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM pairing_sessions
		WHERE status IN ('paired', 'expired') AND expires_at < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
