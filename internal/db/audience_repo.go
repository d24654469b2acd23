package db

import (
	"context"

	"pushengine/internal/types"
)

// AudienceRepository reads and prunes push tokens. Tokens live in two places:
// the user_devices table (one row per device) and the older single
// users.fcm_token column.
type AudienceRepository struct {
	db DBTX
}

// NewAudienceRepository creates a new AudienceRepository.
func NewAudienceRepository(db DBTX) *AudienceRepository {
	return &AudienceRepository{db: db}
}

// ListActiveDeviceTokens returns every non-empty device token of a
// non-deleted user whose account status is active.
func (r *AudienceRepository) ListActiveDeviceTokens(ctx context.Context) ([]types.DeviceToken, error) {
	rows, err := r.db.Query(ctx,
		`SELECT d.fcm_token, d.user_id, COALESCE(d.platform, '')
		 FROM user_devices d
		 JOIN users u ON u.id = d.user_id
		 WHERE d.fcm_token IS NOT NULL AND d.fcm_token <> ''
		   AND u.deleted_at IS NULL
		   AND u.status = 'active'`)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list device tokens", err)
	}
	defer rows.Close()

	var tokens []types.DeviceToken
	for rows.Next() {
		var token, owner, platform string
		if err := rows.Scan(&token, &owner, &platform); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan device token", err)
		}
		tokens = append(tokens, types.DeviceToken{
			Token:    token,
			OwnerID:  owner,
			Platform: types.NormalizePlatform(platform),
			Source:   types.TokenSourceDevice,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate device tokens", err)
	}
	return tokens, nil
}

// ListActiveLegacyTokens returns the single-token column of every
// non-deleted, active user that has one.
func (r *AudienceRepository) ListActiveLegacyTokens(ctx context.Context) ([]types.DeviceToken, error) {
	rows, err := r.db.Query(ctx,
		`SELECT fcm_token, id
		 FROM users
		 WHERE fcm_token IS NOT NULL AND fcm_token <> ''
		   AND deleted_at IS NULL
		   AND status = 'active'`)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list legacy tokens", err)
	}
	defer rows.Close()

	var tokens []types.DeviceToken
	for rows.Next() {
		var token, owner string
		if err := rows.Scan(&token, &owner); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan legacy token", err)
		}
		tokens = append(tokens, types.DeviceToken{
			Token:    token,
			OwnerID:  owner,
			Platform: types.PlatformUnknown,
			Source:   types.TokenSourceLegacy,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate legacy tokens", err)
	}
	return tokens, nil
}

// ClearTokens removes the given tokens from both stores in one statement and
// returns how many records changed.
func (r *AudienceRepository) ClearTokens(ctx context.Context, tokens []string) (int64, error) {
	if len(tokens) == 0 {
		return 0, nil
	}

	var affected int64
	err := r.db.QueryRow(ctx,
		`WITH cleared AS (
			UPDATE users SET fcm_token = NULL
			WHERE fcm_token = ANY($1)
			RETURNING 1
		 ), removed AS (
			DELETE FROM user_devices
			WHERE fcm_token = ANY($1)
			RETURNING 1
		 )
		 SELECT (SELECT COUNT(*) FROM cleared) + (SELECT COUNT(*) FROM removed)`,
		tokens,
	).Scan(&affected)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to clear push tokens", err)
	}
	return affected, nil
}
