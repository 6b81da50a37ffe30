package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"tomorrow/internal/types"
)

// highlightMockRows implements pgx.Rows for the joined highlight queries:
// (id, user_id, book_id, content, created_at, title, author).
type highlightMockRows struct {
	data    []highlightRowData
	idx     int
	scanErr error
	errVal  error
}

type highlightRowData struct {
	id        string
	userID    string
	bookID    string
	content   string
	createdAt time.Time
	title     string
	author    string
}

func (r *highlightMockRows) Next() bool {
	r.idx++
	return r.idx < len(r.data)
}

func (r *highlightMockRows) Scan(dest ...any) error {
	if r.scanErr != nil {
		return r.scanErr
	}
	row := r.data[r.idx]
	*dest[0].(*string) = row.id
	*dest[1].(*string) = row.userID
	*dest[2].(*string) = row.bookID
	*dest[3].(*string) = row.content
	*dest[4].(*time.Time) = row.createdAt
	*dest[5].(*string) = row.title
	*dest[6].(*string) = row.author
	return nil
}

func (r *highlightMockRows) Close()                                       {}
func (r *highlightMockRows) Err() error                                   { return r.errVal }
func (r *highlightMockRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *highlightMockRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *highlightMockRows) RawValues() [][]byte                          { return nil }
func (r *highlightMockRows) Values() ([]any, error)                       { return nil, nil }
func (r *highlightMockRows) Conn() *pgx.Conn                              { return nil }

func newHighlightRows(data []highlightRowData) *highlightMockRows {
	return &highlightMockRows{data: data, idx: -1}
}

// ============================================================
// ListByOwner Tests
// ============================================================

func TestHighlightRepository_ListByOwner(t *testing.T) {
	db := new(mockDBTX)
	repo := NewHighlightRepository(db)
	ctx := context.Background()

	rows := newHighlightRows([]highlightRowData{
		{id: "hl_1", userID: "user_1", bookID: "book_1", content: "First passage",
			title: "Deep Work", author: "Cal Newport"},
		{id: "hl_2", userID: "user_1", content: "Orphaned passage"},
	})
	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).Return(rows, nil)

	results, err := repo.ListByOwner(ctx, "user_1")
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "Deep Work", results[0].BookTitle)
	assert.Equal(t, "Cal Newport", results[0].BookAuthor)

	// A missing book join falls back to the Unknown* display values.
	assert.Equal(t, types.UnknownBookTitle, results[1].BookTitle)
	assert.Equal(t, types.UnknownBookAuthor, results[1].BookAuthor)
}

func TestHighlightRepository_ListByOwner_Empty(t *testing.T) {
	db := new(mockDBTX)
	repo := NewHighlightRepository(db)
	ctx := context.Background()

	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(newHighlightRows(nil), nil)

	results, err := repo.ListByOwner(ctx, "user_empty")
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestHighlightRepository_ListByOwner_QueryError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewHighlightRepository(db)
	ctx := context.Background()

	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(nil, errors.New("connection refused"))

	_, err := repo.ListByOwner(ctx, "user_1")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
}

func TestHighlightRepository_ListByOwner_ScanError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewHighlightRepository(db)
	ctx := context.Background()

	rows := newHighlightRows([]highlightRowData{{id: "hl_1"}})
	rows.scanErr = errors.New("type mismatch")
	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).Return(rows, nil)

	_, err := repo.ListByOwner(ctx, "user_1")
	require.Error(t, err)
}

// ============================================================
// GetForOwner Tests
// ============================================================

func TestHighlightRepository_GetForOwner(t *testing.T) {
	db := new(mockDBTX)
	repo := NewHighlightRepository(db)
	ctx := context.Background()

	createdAt := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).
		Run(func(args mock.Arguments) {
			sqlArgs := args.Get(2).([]any)
			assert.Equal(t, "user_1", sqlArgs[0])
			assert.Equal(t, "hl_9", sqlArgs[1])
		}).
		Return(&mockRow{
			scanFn: func(dest ...any) error {
				*dest[0].(*string) = "hl_9"
				*dest[1].(*string) = "user_1"
				*dest[2].(*string) = "book_1"
				*dest[3].(*string) = "Pinned passage"
				*dest[4].(*time.Time) = createdAt
				*dest[5].(*string) = "Atomic Habits"
				*dest[6].(*string) = "James Clear"
				return nil
			},
		})

	h, err := repo.GetForOwner(ctx, "user_1", "hl_9")
	require.NoError(t, err)
	assert.Equal(t, "hl_9", h.ID)
	assert.Equal(t, "Pinned passage", h.Content)
	assert.Equal(t, "Atomic Habits", h.BookTitle)
	assert.Equal(t, "James Clear", h.BookAuthor)
	db.AssertExpectations(t)
}

func TestHighlightRepository_GetForOwner_FallbackBookFields(t *testing.T) {
	db := new(mockDBTX)
	repo := NewHighlightRepository(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{
			scanFn: func(dest ...any) error {
				*dest[0].(*string) = "hl_9"
				*dest[1].(*string) = "user_1"
				*dest[3].(*string) = "Orphaned passage"
				return nil
			},
		})

	h, err := repo.GetForOwner(ctx, "user_1", "hl_9")
	require.NoError(t, err)
	assert.Equal(t, types.UnknownBookTitle, h.BookTitle)
	assert.Equal(t, types.UnknownBookAuthor, h.BookAuthor)
}

func TestHighlightRepository_GetForOwner_NotFound(t *testing.T) {
	db := new(mockDBTX)
	repo := NewHighlightRepository(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: pgx.ErrNoRows})

	_, err := repo.GetForOwner(ctx, "user_1", "hl_other_users")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeNotFoundHighlight, appErr.Code)
}

// ============================================================
// ListRecent / Get Tests
// ============================================================

func TestHighlightRepository_ListRecent(t *testing.T) {
	db := new(mockDBTX)
	repo := NewHighlightRepository(db)
	ctx := context.Background()

	rows := newHighlightRows([]highlightRowData{
		{id: "hl_new", userID: "user_2", content: "Newest passage",
			title: "Deep Work", author: "Cal Newport"},
		{id: "hl_old", userID: "user_1", content: "Older passage"},
	})
	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).
		Run(func(args mock.Arguments) {
			sqlArgs := args.Get(2).([]any)
			assert.Equal(t, 10, sqlArgs[0])
		}).
		Return(rows, nil)

	results, err := repo.ListRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "hl_new", results[0].ID)
	assert.Equal(t, types.UnknownBookTitle, results[1].BookTitle)
	db.AssertExpectations(t)
}

func TestHighlightRepository_ListRecent_QueryError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewHighlightRepository(db)
	ctx := context.Background()

	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(nil, errors.New("connection refused"))

	_, err := repo.ListRecent(ctx, 10)
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
}

func TestHighlightRepository_Get(t *testing.T) {
	db := new(mockDBTX)
	repo := NewHighlightRepository(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).
		Run(func(args mock.Arguments) {
			sqlArgs := args.Get(2).([]any)
			assert.Equal(t, "hl_9", sqlArgs[0])
		}).
		Return(&mockRow{
			scanFn: func(dest ...any) error {
				*dest[0].(*string) = "hl_9"
				*dest[1].(*string) = "user_1"
				*dest[3].(*string) = "Any user's passage"
				*dest[5].(*string) = "Atomic Habits"
				*dest[6].(*string) = "James Clear"
				return nil
			},
		})

	h, err := repo.Get(ctx, "hl_9")
	require.NoError(t, err)
	assert.Equal(t, "hl_9", h.ID)
	assert.Equal(t, "Atomic Habits", h.BookTitle)
	db.AssertExpectations(t)
}

func TestHighlightRepository_Get_NotFound(t *testing.T) {
	db := new(mockDBTX)
	repo := NewHighlightRepository(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: pgx.ErrNoRows})

	_, err := repo.Get(ctx, "hl_gone")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeNotFoundHighlight, appErr.Code)
}

func TestHighlightRepository_GetForOwner_DBError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewHighlightRepository(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: errors.New("connection reset")})

	_, err := repo.GetForOwner(ctx, "user_1", "hl_9")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
}
