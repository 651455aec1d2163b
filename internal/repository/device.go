package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/soloras/hub-agent/internal/database"
	"github.com/soloras/hub-agent/internal/model"
)

type DeviceRepository interface {
	FindByTokenHash(ctx context.Context, tokenHash string) (*model.Device, error)
	Create(ctx context.Context, device model.Device) (*model.Device, error)
	Revoke(ctx context.Context, id string) error
	WithTx(tx *sqlx.Tx) DeviceRepository
}

type deviceRepo struct {
	db database.DBTX
}

func NewDeviceRepository(db *sqlx.DB) DeviceRepository {
	return &deviceRepo{db: db}
}

func (r *deviceRepo) WithTx(tx *sqlx.Tx) DeviceRepository {
	return &deviceRepo{db: tx}
}

func (r *deviceRepo) FindByTokenHash(ctx context.Context, tokenHash string) (*model.Device, error) {
	var device model.Device
	err := r.db.GetContext(ctx, &device, `
		SELECT * FROM devices WHERE token_hash = $1
	`, tokenHash)
	return HandleNotFound(&device, err)
}

func (r *deviceRepo) Create(ctx context.Context, d model.Device) (*model.Device, error) {
	var device model.Device
	err := r.db.GetContext(ctx, &device, `
		INSERT INTO devices (id, hub_id, token_hash, kind)
		VALUES ($1, $2, $3, $4)
		RETURNING *
	`, d.ID, d.HubID, d.TokenHash, d.Kind)
	if err != nil {
		return nil, err
	}
	return &device, nil
}

func (r *deviceRepo) Revoke(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE devices SET revoked_at = NOW() WHERE id = $1 AND revoked_at IS NULL
	`, id)
	return err
}
