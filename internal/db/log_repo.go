package db

import (
	"context"
	"encoding/json"
	"time"

	"tomorrow/internal/types"
)

// DeliveryLogRepository provides data access for the email_logs table, the
// append-only audit trail of delivery attempts. The delivery path only ever
// inserts; rows are removed solely by the retention job.
type DeliveryLogRepository struct {
	db DBTX
}

// NewDeliveryLogRepository creates a new DeliveryLogRepository backed by the
// given database connection (pool or transaction).
func NewDeliveryLogRepository(db DBTX) *DeliveryLogRepository {
	return &DeliveryLogRepository{db: db}
}

// Record appends one delivery attempt to the audit log. The details payload
// is stored as JSONB. If rec.ID is empty the database generates it; the
// generated id and created_at are written back into rec.
func (r *DeliveryLogRepository) Record(ctx context.Context, rec *types.DeliveryAttemptRecord) error {
	details, err := json.Marshal(rec.Detail)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to encode attempt details", err)
	}

	if rec.ID != "" {
		_, err := r.db.Exec(ctx,
			`INSERT INTO email_logs (id, user_id, status, details, type, created_at)
			 VALUES ($1, $2, $3, $4, $5, COALESCE($6, NOW()))`,
			rec.ID,
			rec.UserID,
			string(rec.Outcome),
			details,
			string(rec.Kind),
			nilIfZeroTime(rec.CreatedAt),
		)
		if err != nil {
			return types.NewAppError(types.ErrCodeInternalDB, "failed to record delivery attempt", err)
		}
		return nil
	}

	// Let the database generate the ID via DEFAULT.
	row := r.db.QueryRow(ctx,
		`INSERT INTO email_logs (user_id, status, details, type, created_at)
		 VALUES ($1, $2, $3, $4, COALESCE($5, NOW()))
		 RETURNING id, created_at`,
		rec.UserID,
		string(rec.Outcome),
		details,
		string(rec.Kind),
		nilIfZeroTime(rec.CreatedAt),
	)
	if err := row.Scan(&rec.ID, &rec.CreatedAt); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to record delivery attempt", err)
	}
	return nil
}

// ListRecentByUser retrieves a user's most recent delivery attempts, newest
// first. limit defaults to 20 and is capped at 100.
func (r *DeliveryLogRepository) ListRecentByUser(ctx context.Context, userID string, limit int) ([]*types.DeliveryAttemptRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	rows, err := r.db.Query(ctx,
		`SELECT id, user_id, status, details, type, created_at
		 FROM email_logs
		 WHERE user_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		userID,
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list delivery attempts", err)
	}
	defer rows.Close()

	var results []*types.DeliveryAttemptRecord
	for rows.Next() {
		rec, scanErr := scanAttemptRecord(rows)
		if scanErr != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan delivery attempt row", scanErr)
		}
		results = append(results, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating delivery attempt rows", err)
	}

	return results, nil
}

// ListBefore retrieves up to limit attempts older than the cutoff, oldest
// first. The retention job pages through expired rows with this before
// archiving and deleting them.
func (r *DeliveryLogRepository) ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]*types.DeliveryAttemptRecord, error) {
	if limit <= 0 {
		limit = 500
	}

	rows, err := r.db.Query(ctx,
		`SELECT id, user_id, status, details, type, created_at
		 FROM email_logs
		 WHERE created_at < $1
		 ORDER BY created_at ASC
		 LIMIT $2`,
		cutoff,
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list expired delivery attempts", err)
	}
	defer rows.Close()

	var results []*types.DeliveryAttemptRecord
	for rows.Next() {
		rec, scanErr := scanAttemptRecord(rows)
		if scanErr != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan delivery attempt row", scanErr)
		}
		results = append(results, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating delivery attempt rows", err)
	}

	return results, nil
}

// DeleteBefore hard-deletes attempts older than the cutoff time. Returns the
// count of deleted records.
func (r *DeliveryLogRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM email_logs WHERE created_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to delete expired delivery attempts", err)
	}
	return tag.RowsAffected(), nil
}

// scanAttemptRecord scans one email_logs row, decoding the JSONB details
// column. A malformed details payload degrades to an empty Detail rather
// than failing the read.
func scanAttemptRecord(row interface{ Scan(dest ...any) error }) (*types.DeliveryAttemptRecord, error) {
	var (
		rec     types.DeliveryAttemptRecord
		outcome string
		kind    string
		details []byte
	)
	if err := row.Scan(&rec.ID, &rec.UserID, &outcome, &details, &kind, &rec.CreatedAt); err != nil {
		return nil, err
	}
	rec.Outcome = types.Outcome(outcome)
	rec.Kind = types.SendKind(kind)
	if len(details) > 0 {
		_ = json.Unmarshal(details, &rec.Detail)
	}
	return &rec, nil
}

// nilIfZeroTime maps the zero time to SQL NULL so COALESCE defaults apply.
func nilIfZeroTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
