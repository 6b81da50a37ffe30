package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tomorrow/internal/clock"
	"tomorrow/internal/email"
	"tomorrow/internal/queue"
	"tomorrow/internal/types"
)

// fakeDirectory returns a fixed candidate list.
type fakeDirectory struct {
	candidates []types.Candidate
	err        error
}

func (f *fakeDirectory) FetchDueCandidates(context.Context) ([]types.Candidate, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.candidates, nil
}

// fakeProvider records sends and can fail per recipient.
type fakeProvider struct {
	mu      sync.Mutex
	sent    []types.SendInput
	failFor map[string]error // keyed by recipient address
}

func (f *fakeProvider) Send(_ context.Context, input types.SendInput) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failFor[input.To]; ok {
		return "", err
	}
	f.sent = append(f.sent, input)
	return "msg_" + input.To, nil
}

func (f *fakeProvider) sentTo() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	for i, in := range f.sent {
		out[i] = in.To
	}
	return out
}

// fakeLogs records audit appends and can fail.
type fakeLogs struct {
	mu      sync.Mutex
	records []*types.DeliveryAttemptRecord
	err     error
}

func (f *fakeLogs) Record(_ context.Context, rec *types.DeliveryAttemptRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.records = append(f.records, rec)
	return nil
}

func (f *fakeLogs) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

// fakeSink records outcome events.
type fakeSink struct {
	mu     sync.Mutex
	events []queue.OutcomeEvent
	err    error
}

func (f *fakeSink) Publish(_ context.Context, event queue.OutcomeEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, event)
	return nil
}

type testEnv struct {
	directory *fakeDirectory
	provider  *fakeProvider
	logs      *fakeLogs
	sink      *fakeSink
	scheduler *Scheduler
}

func newTestEnv(t *testing.T, candidates []types.Candidate, highlights map[string][]types.HighlightWithBook, opts ...Option) *testEnv {
	t.Helper()

	env := &testEnv{
		directory: &fakeDirectory{candidates: candidates},
		provider:  &fakeProvider{failFor: map[string]error{}},
		logs:      &fakeLogs{},
		sink:      &fakeSink{},
	}

	fixed := time.Date(2026, 8, 31, 6, 2, 0, 0, time.UTC)
	env.scheduler = New(Deps{
		Directory: env.directory,
		Selector:  NewSelector(&fakeHighlights{byUser: highlights}, WithRandFn(func(int) int { return 0 })),
		Composer:  email.NewComposer(types.EmailAddress{Address: "hello@tomorrow.email", Name: "Tomorrow"}, "https://tomorrow.email"),
		Provider:  env.provider,
		Logs:      env.logs,
		Clock:     clock.New("UTC", clock.WithNowFunc(func() time.Time { return fixed })),
		Outcomes:  env.sink,
		Logger:    slog.Default(),
	}, opts...)

	return env
}

func candidate(userID, addr, sendTime string) types.Candidate {
	return types.Candidate{
		UserID:   userID,
		Email:    addr,
		Name:     "Reader",
		SendTime: sendTime,
		Mode:     types.SelectionRandom,
	}
}

func library(userIDs ...string) map[string][]types.HighlightWithBook {
	out := map[string][]types.HighlightWithBook{}
	for _, id := range userIDs {
		out[id] = []types.HighlightWithBook{{
			Highlight:  types.Highlight{ID: "hl_" + id, UserID: id, Content: "Focus."},
			BookTitle:  "Deep Work",
			BookAuthor: "Cal Newport",
		}}
	}
	return out
}

func TestRun_EmptyCandidateListSucceeds(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	result, err := env.scheduler.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, &BatchResult{}, result)
	assert.Zero(t, env.logs.count(), "empty batch writes no audit records")
}

func TestRun_DirectoryFailureIsFatal(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.directory.err = errors.New("connection refused")

	result, err := env.scheduler.Run(context.Background(), RunOptions{})
	require.Error(t, err)
	assert.Nil(t, result)
	assert.Equal(t, types.ErrCodeDirectoryUnavailable, appErrorCode(t, err))
	assert.Zero(t, env.logs.count(), "aborted batch writes no audit records")
}

func TestRun_ToleranceBoundary(t *testing.T) {
	tests := []struct {
		name    string
		current string
		sent    int
		skipped int
	}{
		{"inside tolerance", "06:05", 1, 0},
		{"just outside tolerance", "06:06", 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t,
				[]types.Candidate{candidate("user_1", "a@example.com", "06:00")},
				library("user_1"),
			)

			result, err := env.scheduler.Run(context.Background(), RunOptions{TargetTime: tt.current})
			require.NoError(t, err)
			assert.Equal(t, tt.sent, result.Sent)
			assert.Equal(t, tt.skipped, result.Skipped)
		})
	}
}

func TestRun_DefaultsToClockTime(t *testing.T) {
	// The fixed clock reads 06:02; a 06:00 preference is inside the window.
	env := newTestEnv(t,
		[]types.Candidate{candidate("user_1", "a@example.com", "06:00")},
		library("user_1"),
	)

	result, err := env.scheduler.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Sent)
}

func TestRun_EmptySendTimeUsesDefault(t *testing.T) {
	env := newTestEnv(t,
		[]types.Candidate{candidate("user_1", "a@example.com", "")},
		library("user_1"),
	)

	result, err := env.scheduler.Run(context.Background(), RunOptions{TargetTime: "06:00"})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Sent, "missing send time falls back to 06:00")
}

func TestRun_ForceAllBypassesTimeFilter(t *testing.T) {
	env := newTestEnv(t,
		[]types.Candidate{
			candidate("user_1", "a@example.com", "06:00"),
			candidate("user_2", "b@example.com", "21:30"),
		},
		library("user_1", "user_2"),
	)

	result, err := env.scheduler.Run(context.Background(), RunOptions{TargetTime: "12:00", ForceAll: true})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Sent)
	assert.Zero(t, result.Skipped)
}

func TestRun_ModeFilters(t *testing.T) {
	pinned := candidate("user_2", "b@example.com", "06:00")
	pinned.Mode = types.SelectionSpecific
	pinned.HighlightID = "hl_user_2"

	candidates := []types.Candidate{candidate("user_1", "a@example.com", "06:00"), pinned}
	lib := library("user_1", "user_2")

	t.Run("only random", func(t *testing.T) {
		env := newTestEnv(t, candidates, lib)
		result, err := env.scheduler.Run(context.Background(), RunOptions{TargetTime: "06:00", OnlyRandom: true})
		require.NoError(t, err)
		assert.Equal(t, 1, result.Sent)
		assert.Equal(t, 1, result.Skipped)
		assert.Equal(t, []string{"a@example.com"}, env.provider.sentTo())
	})

	t.Run("only specific", func(t *testing.T) {
		env := newTestEnv(t, candidates, lib)
		result, err := env.scheduler.Run(context.Background(), RunOptions{TargetTime: "06:00", OnlySpecific: true})
		require.NoError(t, err)
		assert.Equal(t, 1, result.Sent)
		assert.Equal(t, 1, result.Skipped)
		assert.Equal(t, []string{"b@example.com"}, env.provider.sentTo())
	})
}

func TestRun_MissingAddressIsSkipped(t *testing.T) {
	env := newTestEnv(t,
		[]types.Candidate{
			candidate("user_1", "", "06:00"),
			candidate("user_2", "b@example.com", "06:00"),
		},
		library("user_1", "user_2"),
	)

	result, err := env.scheduler.Run(context.Background(), RunOptions{TargetTime: "06:00", ForceAll: true})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Sent)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, []string{"b@example.com"}, env.provider.sentTo(), "an addressless candidate never reaches the provider")
	assert.Equal(t, 1, env.logs.count(), "the skip writes no audit record")
	assert.Equal(t, "no contact address", result.Users[0].Reason)
}

func TestRun_PerUserIsolation(t *testing.T) {
	env := newTestEnv(t,
		[]types.Candidate{
			candidate("user_1", "a@example.com", "06:00"),
			candidate("user_2", "b@example.com", "06:00"),
		},
		library("user_1", "user_2"),
	)
	env.provider.failFor["a@example.com"] = types.NewAppError(types.ErrCodeEmailBlocked, "recipient blocked", nil)

	result, err := env.scheduler.Run(context.Background(), RunOptions{TargetTime: "06:00"})
	require.NoError(t, err, "one user's failure never fails the batch")
	assert.Equal(t, 1, result.Sent)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "user_1")
}

func TestRun_MixedBatchAggregation(t *testing.T) {
	// One user sends, one is outside the window, one has an empty library.
	env := newTestEnv(t,
		[]types.Candidate{
			candidate("user_1", "a@example.com", "06:00"),
			candidate("user_2", "b@example.com", "21:30"),
			candidate("user_3", "c@example.com", "06:00"),
		},
		library("user_1"),
	)

	result, err := env.scheduler.Run(context.Background(), RunOptions{TargetTime: "06:00"})
	require.NoError(t, err)

	assert.Equal(t, 3, result.Total)
	assert.Equal(t, 3, result.Processed, "every iterated candidate counts as processed")
	assert.Equal(t, 1, result.Sent)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, 1, result.Failed)

	// Exactly one audit record per processed user; the pure skip writes none.
	require.Equal(t, 2, env.logs.count())
	byUser := map[string]types.Outcome{}
	for _, rec := range env.logs.records {
		byUser[rec.UserID] = rec.Outcome
		assert.Equal(t, types.KindScheduled, rec.Kind)
	}
	assert.Equal(t, types.OutcomeSuccess, byUser["user_1"])
	assert.Equal(t, types.OutcomeFailure, byUser["user_3"])
	assert.NotContains(t, byUser, "user_2")
}

func TestRun_AuditRecordContents(t *testing.T) {
	env := newTestEnv(t,
		[]types.Candidate{candidate("user_1", "a@example.com", "06:00")},
		library("user_1"),
	)

	_, err := env.scheduler.Run(context.Background(), RunOptions{TargetTime: "06:00"})
	require.NoError(t, err)

	require.Equal(t, 1, env.logs.count())
	rec := env.logs.records[0]
	assert.Equal(t, "user_1", rec.UserID)
	assert.Equal(t, types.OutcomeSuccess, rec.Outcome)
	assert.Equal(t, "hl_user_1", rec.Detail.HighlightID)
	assert.Equal(t, "Deep Work", rec.Detail.BookTitle)
	assert.Equal(t, "msg_a@example.com", rec.Detail.MessageID)
	assert.NotEmpty(t, rec.ID, "attempt id doubles as the provider reference")

	require.Len(t, env.provider.sent, 1)
	assert.Equal(t, rec.ID, env.provider.sent[0].ReferenceID)
}

func TestRun_LoggingFailureIsSwallowed(t *testing.T) {
	env := newTestEnv(t,
		[]types.Candidate{candidate("user_1", "a@example.com", "06:00")},
		library("user_1"),
	)
	env.logs.err = errors.New("audit table unavailable")

	result, err := env.scheduler.Run(context.Background(), RunOptions{TargetTime: "06:00"})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Sent, "delivered email stays counted as sent")
}

func TestRun_OutcomeEventsPublished(t *testing.T) {
	env := newTestEnv(t,
		[]types.Candidate{
			candidate("user_1", "a@example.com", "06:00"),
			candidate("user_2", "b@example.com", "06:00"),
		},
		library("user_1"), // user_2 has no highlights and fails
	)

	_, err := env.scheduler.Run(context.Background(), RunOptions{TargetTime: "06:00"})
	require.NoError(t, err)

	require.Len(t, env.sink.events, 2)
	byUser := map[string]queue.OutcomeEvent{}
	for _, e := range env.sink.events {
		byUser[e.UserID] = e
	}
	assert.Equal(t, types.OutcomeSuccess, byUser["user_1"].Outcome)
	assert.Equal(t, "msg_a@example.com", byUser["user_1"].MessageID)
	assert.Equal(t, types.OutcomeFailure, byUser["user_2"].Outcome)
	assert.NotEmpty(t, byUser["user_2"].Error)
}

func TestRun_SinkFailureIsSwallowed(t *testing.T) {
	env := newTestEnv(t,
		[]types.Candidate{candidate("user_1", "a@example.com", "06:00")},
		library("user_1"),
	)
	env.sink.err = errors.New("queue unavailable")

	result, err := env.scheduler.Run(context.Background(), RunOptions{TargetTime: "06:00"})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Sent)
}

func TestRun_DuplicateWithinTolerance(t *testing.T) {
	// Two ticks inside the same tolerance window both deliver; the system
	// accepts occasional duplicates instead of tracking send state.
	env := newTestEnv(t,
		[]types.Candidate{candidate("user_1", "a@example.com", "06:00")},
		library("user_1"),
	)

	for _, tick := range []string{"06:01", "06:04"} {
		result, err := env.scheduler.Run(context.Background(), RunOptions{TargetTime: tick})
		require.NoError(t, err)
		assert.Equal(t, 1, result.Sent, "tick %s", tick)
	}
	assert.Len(t, env.provider.sent, 2)
	assert.Equal(t, 2, env.logs.count())
}

func TestRun_WorkerPoolPreservesAggregation(t *testing.T) {
	var candidates []types.Candidate
	users := []string{"user_1", "user_2", "user_3", "user_4", "user_5", "user_6"}
	for _, u := range users {
		candidates = append(candidates, candidate(u, u+"@example.com", "06:00"))
	}
	env := newTestEnv(t, candidates, library(users...), WithWorkers(4))
	env.provider.failFor["user_3@example.com"] = errors.New("timeout")

	result, err := env.scheduler.Run(context.Background(), RunOptions{TargetTime: "06:00"})
	require.NoError(t, err)
	assert.Equal(t, 6, result.Total)
	assert.Equal(t, 5, result.Sent)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 6, env.logs.count())

	// Per-user results stay in candidate order regardless of worker count.
	require.Len(t, result.Users, 6)
	for i, u := range users {
		assert.Equal(t, u, result.Users[i].UserID)
	}
}

func TestRun_ResultEmailsAreRedacted(t *testing.T) {
	env := newTestEnv(t,
		[]types.Candidate{candidate("user_1", "john@example.com", "06:00")},
		library("user_1"),
	)

	result, err := env.scheduler.Run(context.Background(), RunOptions{TargetTime: "06:00"})
	require.NoError(t, err)
	require.Len(t, result.Users, 1)
	assert.Equal(t, "j***@example.com", result.Users[0].Email)
}

func TestSendTest(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	msgID, err := env.scheduler.SendTest(context.Background(), "ops@example.com")
	require.NoError(t, err)
	assert.Equal(t, "msg_ops@example.com", msgID)

	require.Len(t, env.provider.sent, 1)
	assert.Equal(t, "Tomorrow delivery test", env.provider.sent[0].Subject)
	assert.Zero(t, env.logs.count(), "test sends have no owning user to audit")
}

func TestSendTest_MissingRecipient(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	_, err := env.scheduler.SendTest(context.Background(), "")
	assert.Equal(t, types.ErrCodeValidationMissingField, appErrorCode(t, err))
	assert.Empty(t, env.provider.sent)
}

func TestSendTest_ProviderFailure(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.provider.failFor["ops@example.com"] = types.NewAppError(types.ErrCodeUpstreamUnavailable, "provider down", nil)

	_, err := env.scheduler.SendTest(context.Background(), "ops@example.com")
	assert.Equal(t, types.ErrCodeUpstreamUnavailable, appErrorCode(t, err))
}
