package scheduler

import (
	"context"
	"math/rand"

	"tomorrow/internal/types"
)

// HighlightReader defines the highlight reads needed by the Selector. Using
// an interface allows clean testing without database dependencies.
type HighlightReader interface {
	// ListByOwner returns all of a user's highlights with book fields
	// hydrated, newest first.
	ListByOwner(ctx context.Context, userID string) ([]types.HighlightWithBook, error)

	// GetForOwner returns one highlight scoped to its owner. A highlight
	// belonging to another user is reported as not found.
	GetForOwner(ctx context.Context, userID, highlightID string) (*types.HighlightWithBook, error)
}

// Selector chooses the highlight each candidate receives, honoring the
// user's selection mode.
type Selector struct {
	highlights HighlightReader
	randFn     func(n int) int
}

// SelectorOption customizes a Selector.
type SelectorOption func(*Selector)

// WithRandFn replaces the random index source for deterministic tests.
func WithRandFn(fn func(n int) int) SelectorOption {
	return func(s *Selector) {
		s.randFn = fn
	}
}

// NewSelector creates a Selector over the given highlight store.
func NewSelector(highlights HighlightReader, opts ...SelectorOption) *Selector {
	s := &Selector{
		highlights: highlights,
		randFn:     rand.Intn,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Select resolves the highlight for one candidate.
//
// Random mode picks uniformly over the owner's library and fails with
// not_found_no_highlights when the library is empty. Specific mode fetches
// the pinned highlight and fails with not_found_highlight when it is absent,
// which also covers a pinned reference left dangling by a deletion.
func (s *Selector) Select(ctx context.Context, cand types.Candidate) (*types.HighlightWithBook, error) {
	switch cand.Mode {
	case types.SelectionSpecific:
		if cand.HighlightID == "" {
			return nil, types.NewAppError(types.ErrCodeNotFoundHighlight, "no pinned highlight configured", nil)
		}
		return s.highlights.GetForOwner(ctx, cand.UserID, cand.HighlightID)

	default:
		// Random is the default for any unrecognized mode; the preference
		// write path validates modes, the delivery path stays permissive.
		all, err := s.highlights.ListByOwner(ctx, cand.UserID)
		if err != nil {
			return nil, err
		}
		if len(all) == 0 {
			return nil, types.NewAppError(types.ErrCodeNoContent, "user has no highlights to deliver", nil)
		}
		picked := all[s.randFn(len(all))]
		return &picked, nil
	}
}
