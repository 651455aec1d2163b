package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/soloras/hub-agent/internal/database"
	"github.com/soloras/hub-agent/internal/model"
)

type HubRepository interface {
	FindByID(ctx context.Context, id string) (*model.Hub, error)
	Create(ctx context.Context, id, name string) (*model.Hub, error)
	TouchLastSeen(ctx context.Context, id string, at time.Time) error
	WithTx(tx *sqlx.Tx) HubRepository
}

type hubRepo struct {
	db database.DBTX
}

func NewHubRepository(db *sqlx.DB) HubRepository {
	return &hubRepo{db: db}
}

func (r *hubRepo) WithTx(tx *sqlx.Tx) HubRepository {
	return &hubRepo{db: tx}
}

func (r *hubRepo) FindByID(ctx context.Context, id string) (*model.Hub, error) {
	var hub model.Hub
	err := r.db.GetContext(ctx, &hub, `SELECT * FROM hubs WHERE id = $1`, id)
	return HandleNotFound(&hub, err)
}

func (r *hubRepo) Create(ctx context.Context, id, name string) (*model.Hub, error) {
	var hub model.Hub
	err := r.db.GetContext(ctx, &hub, `
		INSERT INTO hubs (id, name)
		VALUES ($1, $2)
		RETURNING *
	`, id, name)
	if err != nil {
		return nil, err
	}
	return &hub, nil
}

func (r *hubRepo) TouchLastSeen(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE hubs SET last_seen_at = $2 WHERE id = $1
	`, id, at)
	return err
}
