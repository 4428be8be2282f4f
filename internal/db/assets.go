package db

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// AssetRepository handles discovered asset persistence. Assets are upserted
// on (target, type, value); disappearance flips is_active rather than
// deleting the row.
type AssetRepository struct {
	db *DB
}

// NewAssetRepository creates a new asset repository.
func NewAssetRepository(db *DB) *AssetRepository {
	return &AssetRepository{db: db}
}

// Upsert creates the asset or refreshes last_seen_at/metadata on an existing
// one, reactivating it if tombstoned. Returns the stored row and whether it
// was newly discovered.
func (r *AssetRepository) Upsert(ctx context.Context, asset *Asset) (*Asset, bool, error) {
	if asset.ID == uuid.Nil {
		asset.ID = uuid.New()
	}

	query := `
		INSERT INTO assets (id, target_id, type, value, metadata)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (target_id, type, value) DO UPDATE
		SET metadata = COALESCE(EXCLUDED.metadata, assets.metadata),
		    last_seen_at = NOW(),
		    is_active = TRUE
		RETURNING id, target_id, type, value, metadata, is_active, first_seen_at, last_seen_at`

	var stored Asset
	err := r.db.GetContext(ctx, &stored, query,
		asset.ID, asset.TargetID, asset.Type, asset.Value, asset.Metadata)
	if err != nil {
		return nil, false, sanitizeDBError("upsert asset", err)
	}

	// On insert both timestamps come from the same NOW(); on update only
	// last_seen_at moves.
	discovered := stored.FirstSeenAt.Equal(stored.LastSeenAt)
	return &stored, discovered, nil
}

// GetByID retrieves an asset by ID.
func (r *AssetRepository) GetByID(ctx context.Context, id uuid.UUID) (*Asset, error) {
	var asset Asset
	query := `SELECT * FROM assets WHERE id = $1`

	if err := r.db.GetContext(ctx, &asset, query, id); err != nil {
		return nil, sanitizeDBError("get asset", err)
	}
	return &asset, nil
}

// ListByTarget retrieves assets for a target, active first.
func (r *AssetRepository) ListByTarget(ctx context.Context, targetID uuid.UUID) ([]*Asset, error) {
	var assets []*Asset
	query := `
		SELECT * FROM assets
		WHERE target_id = $1
		ORDER BY is_active DESC, type, value`

	if err := r.db.SelectContext(ctx, &assets, query, targetID); err != nil {
		return nil, sanitizeDBError("list assets", err)
	}
	return assets, nil
}

// DeactivateStale soft-tombstones assets of a target not re-observed since
// the given instant. Used after a completed scan; never a hard delete.
func (r *AssetRepository) DeactivateStale(ctx context.Context, targetID uuid.UUID, seenSince time.Time) (int64, error) {
	query := `
		UPDATE assets
		SET is_active = FALSE
		WHERE target_id = $1 AND is_active AND last_seen_at < $2`

	res, err := r.db.ExecContext(ctx, query, targetID, seenSince)
	if err != nil {
		return 0, sanitizeDBError("deactivate stale assets", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
