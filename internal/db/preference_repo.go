package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"tomorrow/internal/types"
)

// PreferenceRepository provides data access for the email_preferences table
// and the candidate query the delivery scheduler starts every batch from.
type PreferenceRepository struct {
	db DBTX
}

// NewPreferenceRepository creates a new PreferenceRepository backed by the
// given database connection (pool or transaction).
func NewPreferenceRepository(db DBTX) *PreferenceRepository {
	return &PreferenceRepository{db: db}
}

// FetchDueCandidates returns every user with a delivery preference and a
// usable contact address, joined in a single query. Users without an email
// address are excluded at the source rather than filtered downstream; the
// scheduler applies time matching to the returned set.
func (r *PreferenceRepository) FetchDueCandidates(ctx context.Context) ([]types.Candidate, error) {
	rows, err := r.db.Query(ctx,
		`SELECT u.id, u.email, COALESCE(u.name, ''), p.send_time, p.is_random, COALESCE(p.highlight_id, '')
		 FROM email_preferences p
		 JOIN users u ON u.id = p.user_id
		 WHERE u.email IS NOT NULL AND u.email <> ''
		 ORDER BY u.id`,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to fetch delivery candidates", err)
	}
	defer rows.Close()

	var candidates []types.Candidate
	for rows.Next() {
		var (
			c        types.Candidate
			isRandom bool
		)
		if err := rows.Scan(&c.UserID, &c.Email, &c.Name, &c.SendTime, &isRandom, &c.HighlightID); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan candidate row", err)
		}
		c.Mode = types.SelectionSpecific
		if isRandom {
			c.Mode = types.SelectionRandom
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating candidate rows", err)
	}

	return candidates, nil
}

// Get retrieves the delivery preference for a single user.
func (r *PreferenceRepository) Get(ctx context.Context, userID string) (*types.DeliveryPreference, error) {
	row := r.db.QueryRow(ctx,
		`SELECT user_id, send_time, is_random, COALESCE(highlight_id, ''), updated_at
		 FROM email_preferences
		 WHERE user_id = $1`,
		userID,
	)

	var (
		pref     types.DeliveryPreference
		isRandom bool
	)
	if err := row.Scan(&pref.UserID, &pref.SendTime, &isRandom, &pref.HighlightID, &pref.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundPreference, "delivery preference not found", err)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get delivery preference", err)
	}

	pref.Mode = types.SelectionSpecific
	if isRandom {
		pref.Mode = types.SelectionRandom
	}
	return &pref, nil
}

// Upsert creates or replaces a user's delivery preference. At most one active
// record exists per user, enforced by the primary key on user_id. The stored
// updated_at is written back into pref.
func (r *PreferenceRepository) Upsert(ctx context.Context, pref *types.DeliveryPreference) error {
	row := r.db.QueryRow(ctx,
		`INSERT INTO email_preferences (user_id, send_time, is_random, highlight_id, updated_at)
		 VALUES ($1, $2, $3, $4, NOW())
		 ON CONFLICT (user_id) DO UPDATE SET
			send_time = EXCLUDED.send_time,
			is_random = EXCLUDED.is_random,
			highlight_id = EXCLUDED.highlight_id,
			updated_at = NOW()
		 RETURNING updated_at`,
		pref.UserID,
		pref.SendTime,
		pref.Mode == types.SelectionRandom,
		nilIfEmpty(pref.HighlightID),
	)
	if err := row.Scan(&pref.UpdatedAt); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to upsert delivery preference", err)
	}
	return nil
}

// Delete removes a user's delivery preference, unsubscribing them from the
// daily email.
func (r *PreferenceRepository) Delete(ctx context.Context, userID string) error {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM email_preferences WHERE user_id = $1`,
		userID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to delete delivery preference", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundPreference, "delivery preference not found", nil)
	}
	return nil
}

// nilIfEmpty maps an empty string to SQL NULL.
func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
