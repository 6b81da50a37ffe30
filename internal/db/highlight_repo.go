package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"tomorrow/internal/types"
)

// HighlightRepository provides data access for the highlights table. Reads
// are always scoped to an owner; a highlight is never visible outside the
// user who saved it.
//
// Book display fields are hydrated via a LEFT JOIN so a highlight whose book
// row is missing still loads, with the Unknown* fallbacks applied.
type HighlightRepository struct {
	db DBTX
}

// NewHighlightRepository creates a new HighlightRepository backed by the
// given database connection (pool or transaction).
func NewHighlightRepository(db DBTX) *HighlightRepository {
	return &HighlightRepository{db: db}
}

// ListByOwner retrieves all of a user's highlights with book display fields
// attached. An empty result is not an error; callers decide whether an empty
// library is a problem.
func (r *HighlightRepository) ListByOwner(ctx context.Context, userID string) ([]types.HighlightWithBook, error) {
	rows, err := r.db.Query(ctx,
		`SELECT h.id, h.user_id, COALESCE(h.book_id, ''), h.content, h.created_at,
		        COALESCE(b.title, ''), COALESCE(b.author, '')
		 FROM highlights h
		 LEFT JOIN books b ON b.id = h.book_id
		 WHERE h.user_id = $1
		 ORDER BY h.created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list highlights", err)
	}
	defer rows.Close()

	var results []types.HighlightWithBook
	for rows.Next() {
		h, scanErr := scanHighlightWithBook(rows)
		if scanErr != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan highlight row", scanErr)
		}
		results = append(results, h)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating highlight rows", err)
	}

	return results, nil
}

// GetForOwner retrieves a single highlight by id, scoped to its owner.
// A highlight belonging to a different user is indistinguishable from one
// that does not exist.
func (r *HighlightRepository) GetForOwner(ctx context.Context, userID, highlightID string) (*types.HighlightWithBook, error) {
	row := r.db.QueryRow(ctx,
		`SELECT h.id, h.user_id, COALESCE(h.book_id, ''), h.content, h.created_at,
		        COALESCE(b.title, ''), COALESCE(b.author, '')
		 FROM highlights h
		 LEFT JOIN books b ON b.id = h.book_id
		 WHERE h.user_id = $1 AND h.id = $2`,
		userID,
		highlightID,
	)

	h, err := scanHighlightWithBook(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundHighlight, "highlight not found", err)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get highlight", err)
	}
	return &h, nil
}

// ListRecent retrieves the most recently saved highlights across all users,
// newest first. Used only by the operator test trigger, which sends to an
// operator-supplied address rather than a highlight owner.
func (r *HighlightRepository) ListRecent(ctx context.Context, limit int) ([]types.HighlightWithBook, error) {
	rows, err := r.db.Query(ctx,
		`SELECT h.id, h.user_id, COALESCE(h.book_id, ''), h.content, h.created_at,
		        COALESCE(b.title, ''), COALESCE(b.author, '')
		 FROM highlights h
		 LEFT JOIN books b ON b.id = h.book_id
		 ORDER BY h.created_at DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list recent highlights", err)
	}
	defer rows.Close()

	var results []types.HighlightWithBook
	for rows.Next() {
		h, scanErr := scanHighlightWithBook(rows)
		if scanErr != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan highlight row", scanErr)
		}
		results = append(results, h)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating highlight rows", err)
	}

	return results, nil
}

// Get retrieves a single highlight by id without an owner scope. Reserved
// for the operator test trigger; user-facing reads go through GetForOwner.
func (r *HighlightRepository) Get(ctx context.Context, highlightID string) (*types.HighlightWithBook, error) {
	row := r.db.QueryRow(ctx,
		`SELECT h.id, h.user_id, COALESCE(h.book_id, ''), h.content, h.created_at,
		        COALESCE(b.title, ''), COALESCE(b.author, '')
		 FROM highlights h
		 LEFT JOIN books b ON b.id = h.book_id
		 WHERE h.id = $1`,
		highlightID,
	)

	h, err := scanHighlightWithBook(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundHighlight, "highlight not found", err)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get highlight", err)
	}
	return &h, nil
}

// scanHighlightWithBook scans one joined highlight row and applies the
// Unknown* fallbacks for absent or empty book fields.
func scanHighlightWithBook(row pgx.Row) (types.HighlightWithBook, error) {
	var h types.HighlightWithBook
	err := row.Scan(&h.ID, &h.UserID, &h.BookID, &h.Content, &h.CreatedAt, &h.BookTitle, &h.BookAuthor)
	if err != nil {
		return types.HighlightWithBook{}, err
	}
	if h.BookTitle == "" {
		h.BookTitle = types.UnknownBookTitle
	}
	if h.BookAuthor == "" {
		h.BookAuthor = types.UnknownBookAuthor
	}
	return h, nil
}
