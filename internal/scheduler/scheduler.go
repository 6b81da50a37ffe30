package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"tomorrow/internal/clock"
	"tomorrow/internal/email"
	"tomorrow/internal/external"
	"tomorrow/internal/metrics"
	"tomorrow/internal/queue"
	"tomorrow/internal/types"
)

// CandidateSource defines the directory read needed by the scheduler.
type CandidateSource interface {
	// FetchDueCandidates returns every user with a delivery preference and a
	// usable contact address. The time filter is applied by the scheduler,
	// not the query.
	FetchDueCandidates(ctx context.Context) ([]types.Candidate, error)
}

// AttemptLogger defines the audit append needed by the scheduler.
type AttemptLogger interface {
	Record(ctx context.Context, rec *types.DeliveryAttemptRecord) error
}

// OutcomeSink publishes per-attempt outcome events for downstream consumers.
// May be nil when event publishing is not configured.
type OutcomeSink interface {
	Publish(ctx context.Context, event queue.OutcomeEvent) error
}

// Deps are the collaborators a Scheduler needs. Directory, Selector,
// Composer, Provider, Logs and Clock are required; Outcomes and Metrics are
// optional.
type Deps struct {
	Directory CandidateSource
	Selector  *Selector
	Composer  *email.Composer
	Provider  external.EmailProvider
	Logs      AttemptLogger
	Clock     *clock.Clock
	Outcomes  OutcomeSink
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithTolerance sets the send-window tolerance in minutes.
func WithTolerance(minutes int) Option {
	return func(s *Scheduler) {
		if minutes >= 0 {
			s.tolerance = minutes
		}
	}
}

// WithWorkers bounds the number of candidates processed concurrently.
// The default of 1 processes candidates sequentially.
func WithWorkers(n int) Option {
	return func(s *Scheduler) {
		if n >= 1 {
			s.workers = n
		}
	}
}

// Scheduler runs delivery batches. One invocation loads every candidate,
// applies the mode and send-window filters, and delivers to each matching
// user in isolation: a single user's failure never aborts the batch, and
// every processed user yields exactly one audit record.
type Scheduler struct {
	directory CandidateSource
	selector  *Selector
	composer  *email.Composer
	provider  external.EmailProvider
	logs      AttemptLogger
	clock     *clock.Clock
	outcomes  OutcomeSink
	metrics   *metrics.Metrics
	logger    *slog.Logger

	tolerance int
	workers   int
}

// New creates a Scheduler.
func New(deps Deps, opts ...Option) *Scheduler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Scheduler{
		directory: deps.Directory,
		selector:  deps.Selector,
		composer:  deps.Composer,
		provider:  deps.Provider,
		logs:      deps.Logs,
		clock:     deps.Clock,
		outcomes:  deps.Outcomes,
		metrics:   deps.Metrics,
		logger:    logger,
		tolerance: clock.DefaultToleranceMinutes,
		workers:   1,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run executes one delivery batch.
//
// A directory failure is fatal: the batch aborts before any audit record is
// written. An empty candidate list is a successful run with zero counters.
// From there each candidate is independent; select and transport failures
// are recorded and counted, never propagated.
func (s *Scheduler) Run(ctx context.Context, opts RunOptions) (*BatchResult, error) {
	kind := opts.Kind
	if kind == "" {
		kind = types.KindScheduled
	}

	candidates, err := s.directory.FetchDueCandidates(ctx)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeDirectoryUnavailable, "failed to load delivery candidates", err)
	}

	result := &BatchResult{Total: len(candidates)}
	if len(candidates) == 0 {
		s.logger.InfoContext(ctx, "delivery batch complete", "total", 0)
		return result, nil
	}

	current := opts.TargetTime
	if current == "" {
		current = s.clock.TimeOfDay(s.clock.Now())
	}

	s.logger.InfoContext(ctx, "delivery batch started",
		"total", len(candidates),
		"current_time", current,
		"force_all", opts.ForceAll,
		"kind", string(kind),
	)

	outcomes := make([]UserResult, len(candidates))
	g := new(errgroup.Group)
	g.SetLimit(s.workers)
	for i, cand := range candidates {
		i, cand := i, cand
		g.Go(func() error {
			outcomes[i] = s.processCandidate(ctx, cand, current, opts, kind)
			return nil
		})
	}
	// Workers never return errors; failures land in their UserResult.
	_ = g.Wait()

	for _, out := range outcomes {
		result.Users = append(result.Users, out)
		result.Processed++
		switch out.Status {
		case StatusSent:
			result.Sent++
		case StatusFailed:
			result.Failed++
			result.Errors = append(result.Errors, out.UserID+": "+out.Reason)
		default:
			result.Skipped++
		}
	}

	s.metrics.RecordBatch(ctx, result.Sent, result.Skipped, result.Failed)

	s.logger.InfoContext(ctx, "delivery batch complete",
		"total", result.Total,
		"sent", result.Sent,
		"skipped", result.Skipped,
		"failed", result.Failed,
	)

	return result, nil
}

// processCandidate handles one candidate end to end. Skips are pure: no
// audit record, no metrics. Once a candidate passes the filters it is
// processed, and exactly one audit record is written whatever the outcome.
func (s *Scheduler) processCandidate(ctx context.Context, cand types.Candidate, current string, opts RunOptions, kind types.SendKind) UserResult {
	redacted := email.RedactEmail(cand.Email)

	// Directory rows are pre-filtered, but a row without a contact address
	// must never reach the provider.
	if cand.Email == "" {
		return UserResult{UserID: cand.UserID, Status: StatusSkipped, Reason: "no contact address"}
	}

	if opts.OnlyRandom && cand.Mode != types.SelectionRandom {
		return UserResult{UserID: cand.UserID, Email: redacted, Status: StatusSkipped, Reason: "mode filter"}
	}
	if opts.OnlySpecific && cand.Mode != types.SelectionSpecific {
		return UserResult{UserID: cand.UserID, Email: redacted, Status: StatusSkipped, Reason: "mode filter"}
	}

	sendTime := cand.SendTime
	if sendTime == "" {
		sendTime = types.DefaultSendTime
	}
	if !opts.ForceAll && !clock.IsWithinTolerance(sendTime, current, s.tolerance) {
		return UserResult{UserID: cand.UserID, Email: redacted, Status: StatusSkipped, Reason: "outside send window"}
	}

	hl, err := s.selector.Select(ctx, cand)
	if err != nil {
		s.finishAttempt(ctx, cand, kind, types.OutcomeFailure, types.AttemptDetail{Error: err.Error()}, "")
		return UserResult{UserID: cand.UserID, Email: redacted, Status: StatusFailed, Reason: err.Error()}
	}

	attemptID := uuid.New().String()
	input := s.composer.DailyHighlight(cand.Email, cand.Name, *hl)
	input.ReferenceID = attemptID

	start := time.Now()
	msgID, err := s.provider.Send(ctx, input)
	s.metrics.RecordSendLatency(ctx, kind, time.Since(start))

	detail := types.AttemptDetail{
		HighlightID: hl.ID,
		BookTitle:   hl.BookTitle,
	}
	if err != nil {
		detail.Error = err.Error()
		s.finishAttempt(ctx, cand, kind, types.OutcomeFailure, detail, attemptID)
		return UserResult{UserID: cand.UserID, Email: redacted, Status: StatusFailed, Reason: err.Error()}
	}

	detail.MessageID = msgID
	s.finishAttempt(ctx, cand, kind, types.OutcomeSuccess, detail, attemptID)
	return UserResult{UserID: cand.UserID, Email: redacted, Status: StatusSent}
}

// finishAttempt writes the audit record and emits the best-effort signals
// for one processed candidate. Audit append failures are logged and
// swallowed: a logging outage must not turn a delivered email into a batch
// failure.
func (s *Scheduler) finishAttempt(ctx context.Context, cand types.Candidate, kind types.SendKind, outcome types.Outcome, detail types.AttemptDetail, attemptID string) {
	rec := &types.DeliveryAttemptRecord{
		ID:      attemptID,
		UserID:  cand.UserID,
		Outcome: outcome,
		Detail:  detail,
		Kind:    kind,
	}
	if err := s.logs.Record(ctx, rec); err != nil {
		s.logger.WarnContext(ctx, "failed to record delivery attempt",
			"user_id", cand.UserID,
			"outcome", string(outcome),
			"error", err,
		)
	}

	s.metrics.RecordSendOutcome(ctx, kind, outcome)

	if s.outcomes != nil {
		event := queue.OutcomeEvent{
			EventID:     attemptID,
			UserID:      cand.UserID,
			Outcome:     outcome,
			Kind:        kind,
			HighlightID: detail.HighlightID,
			MessageID:   detail.MessageID,
			Error:       detail.Error,
		}
		if err := s.outcomes.Publish(ctx, event); err != nil {
			s.logger.WarnContext(ctx, "failed to publish outcome event",
				"user_id", cand.UserID,
				"error", err,
			)
		}
	}
}

// SendTest sends one connectivity-test email to the given recipient and
// returns the provider message id. Test sends are operator-facing and have
// no owning user, so no audit record is written.
func (s *Scheduler) SendTest(ctx context.Context, recipient string) (string, error) {
	if recipient == "" {
		return "", types.NewAppError(types.ErrCodeValidationMissingField, "test recipient address is not configured", nil)
	}

	input := s.composer.Test(recipient, s.clock.Now())
	input.ReferenceID = uuid.New().String()

	msgID, err := s.provider.Send(ctx, input)
	if err != nil {
		s.metrics.RecordSendOutcome(ctx, types.KindTest, types.OutcomeFailure)
		return "", err
	}

	s.metrics.RecordSendOutcome(ctx, types.KindTest, types.OutcomeSuccess)
	s.logger.InfoContext(ctx, "test email sent",
		"to", email.RedactEmail(recipient),
		"message_id", msgID,
	)
	return msgID, nil
}
