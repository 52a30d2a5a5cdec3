// Package worker implements the newsletter delivery worker: a long-lived
// loop that drains the issue delivery queue one task at a time.
//
// Each iteration claims a single task under the queue's lease-based mutual
// exclusion, resolves the recipient, sends the issue, and retires the row.
// Claim and removal belong to the same lease, so a worker that dies
// mid-task loses nothing: its lease expires and another worker reclaims the
// row. Multiple workers may run concurrently against the same queue with no
// coordination beyond the claim primitive.
//
// Delivery is best effort by policy: a send failure or an invalid stored
// address is logged and the task is retired anyway, so one bad recipient
// never blocks the queue. An issue is therefore delivered at least once per
// queue row, never unboundedly re-enqueued.
package worker

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/ntavlas/go-newsletter-backend/internal/domain"
	"github.com/ntavlas/go-newsletter-backend/internal/repo"
)

// ExecutionOutcome reports what a single worker iteration accomplished.
type ExecutionOutcome int

const (
	// TaskCompleted means a task was claimed and retired (sent, send-failed,
	// or skipped); the loop should immediately look for more work.
	TaskCompleted ExecutionOutcome = iota
	// EmptyQueue means no task was claimable; the loop should sleep.
	EmptyQueue
)

// Mailer performs the network send for one recipient.
type Mailer interface {
	Send(ctx context.Context, to domain.EmailAddress, subject, htmlContent, textContent string) error
}

// DeliveryWorker drains the delivery queue until its context is cancelled.
type DeliveryWorker struct {
	DB     *gorm.DB
	Mailer Mailer

	// Name identifies this worker instance in logs.
	Name string

	// PollInterval is the sleep on an empty queue. Values <= 0 default to 10s.
	PollInterval time.Duration
	// ErrorBackoff is the sleep after an unexpected error, preventing a hot
	// failure loop. Values <= 0 default to 1s.
	ErrorBackoff time.Duration
	// LeaseDuration bounds how long a claimed task stays invisible to other
	// workers. Values <= 0 default to 1m.
	LeaseDuration time.Duration
}

// Run executes the worker loop until ctx is cancelled. Storage outages and
// other unexpected errors are retried indefinitely after ErrorBackoff;
// per-task delivery failures are absorbed inside TryExecuteTask.
func (w *DeliveryWorker) Run(ctx context.Context) {
	lg := log.With().Str("worker", w.Name).Logger()
	lg.Info().Msg("delivery worker started")

	for {
		outcome, err := w.TryExecuteTask(ctx)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				lg.Info().Msg("delivery worker stopped")
				return
			}
			workerErrors.Inc()
			lg.Error().Err(err).Msg("delivery iteration failed")
			if !sleep(ctx, w.errorBackoff()) {
				lg.Info().Msg("delivery worker stopped")
				return
			}
		case outcome == EmptyQueue:
			if !sleep(ctx, w.pollInterval()) {
				lg.Info().Msg("delivery worker stopped")
				return
			}
		default:
			// Task completed; claim the next one right away.
		}
	}
}

// TryExecuteTask claims at most one delivery task and processes it to
// completion. It returns EmptyQueue when nothing was claimable, and an error
// only for unexpected conditions (storage failures); delivery-level failures
// are logged, counted, and swallowed so the queue keeps moving.
func (w *DeliveryWorker) TryExecuteTask(ctx context.Context) (ExecutionOutcome, error) {
	leaseID := uuid.NewString()
	task, err := repo.ClaimDeliveryTask(ctx, w.DB, leaseID, w.leaseDuration(), time.Now().UTC())
	if errors.Is(err, repo.ErrEmptyQueue) {
		return EmptyQueue, nil
	}
	if err != nil {
		return EmptyQueue, err
	}

	lg := log.With().
		Str("worker", w.Name).
		Str("issue_id", task.IssueID).
		Str("recipient", task.RecipientEmail).
		Logger()

	addr, perr := domain.ParseEmail(task.RecipientEmail)
	if perr != nil {
		// Contact details cannot become valid by retrying.
		deliveryAttempts.WithLabelValues(outcomeSkippedInvalid).Inc()
		lg.Error().Err(perr).
			Msg("skipping a confirmed subscriber, their stored contact details are invalid")
	} else {
		issue, err := repo.GetIssue(ctx, w.DB, task.IssueID)
		if err != nil {
			// Leave the task leased; the lease expires and the row is retried.
			return EmptyQueue, err
		}
		if err := w.Mailer.Send(ctx, addr, issue.Title, issue.HTMLContent, issue.TextContent); err != nil {
			deliveryAttempts.WithLabelValues(outcomeFailed).Inc()
			lg.Error().Err(err).
				Msg("failed to deliver issue to a confirmed subscriber, skipping")
		} else {
			deliveryAttempts.WithLabelValues(outcomeDelivered).Inc()
			lg.Debug().Msg("issue delivered")
		}
	}

	if err := repo.RetireDeliveryTask(ctx, w.DB, task, leaseID); err != nil {
		if errors.Is(err, repo.ErrLeaseLost) {
			// The send outlived our lease and another worker took the row.
			lg.Warn().Msg("task lease lost before retirement")
			return TaskCompleted, nil
		}
		return EmptyQueue, err
	}
	return TaskCompleted, nil
}

func (w *DeliveryWorker) pollInterval() time.Duration {
	if w.PollInterval > 0 {
		return w.PollInterval
	}
	return 10 * time.Second
}

func (w *DeliveryWorker) errorBackoff() time.Duration {
	if w.ErrorBackoff > 0 {
		return w.ErrorBackoff
	}
	return time.Second
}

func (w *DeliveryWorker) leaseDuration() time.Duration {
	if w.LeaseDuration > 0 {
		return w.LeaseDuration
	}
	return time.Minute
}

// sleep waits for d or until ctx is cancelled; it reports whether the full
// duration elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
