package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/locad/locad-payments/pkg/config"
	"github.com/locad/locad-payments/pkg/db/models"
	"github.com/locad/locad-payments/pkg/enums"
	"github.com/locad/locad-payments/pkg/logger"
	"github.com/locad/locad-payments/pkg/metrics"
	"github.com/locad/locad-payments/pkg/outbox/registry"
)

const (
	defaultBatchSize      = 50
	defaultPollInterval   = 500 * time.Millisecond
	defaultMaxAttempts    = 10
	defaultPublishTimeout = 15 * time.Second
	maxPollBackoff        = 10 * time.Second
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type eventStore interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error
}

type deadLetterStore interface {
	InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error
}

type eventResolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

// topicPublisher publishes one message and waits for the server ID.
type topicPublisher interface {
	Publish(ctx context.Context, msg *gcppubsub.Message) (string, error)
}

type publisherLookup func(topic string) topicPublisher

type outcome string

const (
	outcomePublished    outcome = "published"
	outcomeRetry        outcome = "retry"
	outcomeDeadLettered outcome = "dead_lettered"
)

type RelayParams struct {
	Outbox      config.OutboxConfig
	Logger      *logger.Logger
	DB          txRunner
	Events      eventStore
	DeadLetters deadLetterStore
	Registry    eventResolver
	Publishers  publisherLookup
	Metrics     *metrics.OutboxMetrics
	Now         func() time.Time
}

// Relay moves committed outbox rows onto Pub/Sub.
type Relay struct {
	logg         *logger.Logger
	db           txRunner
	events       eventStore
	deadLetters  deadLetterStore
	registry     eventResolver
	publishers   publisherLookup
	metrics      *metrics.OutboxMetrics
	now          func() time.Time
	batchSize    int
	maxAttempts  int
	pollInterval time.Duration
}

func NewRelay(params RelayParams) (*Relay, error) {
	switch {
	case params.DB == nil:
		return nil, errors.New("database client is required")
	case params.Events == nil:
		return nil, errors.New("outbox repository is required")
	case params.DeadLetters == nil:
		return nil, errors.New("dlq repository is required")
	case params.Registry == nil:
		return nil, errors.New("event registry is required")
	case params.Publishers == nil:
		return nil, errors.New("publisher lookup is required")
	}

	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}

	batch := params.Outbox.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	poll := time.Duration(params.Outbox.PollIntervalMS) * time.Millisecond
	if poll <= 0 {
		poll = defaultPollInterval
	}
	maxAttempts := params.Outbox.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}

	return &Relay{
		logg:         logg,
		db:           params.DB,
		events:       params.Events,
		deadLetters:  params.DeadLetters,
		registry:     params.Registry,
		publishers:   params.Publishers,
		metrics:      params.Metrics,
		now:          now,
		batchSize:    batch,
		maxAttempts:  maxAttempts,
		pollInterval: poll,
	}, nil
}

// Run polls until ctx is canceled. Empty polls wait one interval. Failed
// polls and batches with publish retries back off exponentially.
func (r *Relay) Run(ctx context.Context) error {
	backoff := newPollBackoff(r.pollInterval, maxPollBackoff)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		result, err := r.relayBatch(ctx)
		var wait time.Duration
		switch {
		case err != nil:
			r.logg.Error(ctx, "outbox.batch_failed", err)
			wait = backoff.failure()
		case result.retried > 0:
			wait = backoff.failure()
			r.logg.Warn(r.logg.WithFields(ctx, map[string]any{
				"retried": result.retried,
				"wait_ms": wait.Milliseconds(),
			}), "outbox.publish_backoff")
		case result.settled > 0:
			backoff.reset()
			continue
		default:
			wait = backoff.idle()
			r.logg.Debug(r.logg.WithField(ctx, "wait_ms", wait.Milliseconds()), "outbox.idle")
		}

		if err := sleepCtx(ctx, wait); err != nil {
			return err
		}
	}
}

// batchResult counts rows that left the queue (published or dead-lettered)
// and rows that stay queued for another attempt.
type batchResult struct {
	settled int
	retried int
}

// relayBatch handles one locked batch.
func (r *Relay) relayBatch(ctx context.Context) (batchResult, error) {
	var result batchResult
	err := r.db.WithTx(ctx, func(tx *gorm.DB) error {
		result = batchResult{}
		rows, err := r.events.FetchUnpublishedForPublish(tx, r.batchSize, r.maxAttempts)
		if err != nil {
			return fmt.Errorf("fetch outbox batch: %w", err)
		}
		for _, row := range rows {
			out, err := r.dispatch(ctx, tx, row)
			if err != nil {
				return err
			}
			if out == outcomeRetry {
				result.retried++
			} else {
				result.settled++
			}
		}
		return nil
	})
	return result, err
}

// dispatch publishes a single row. Only store errors are returned; publish
// errors are recorded on the row.
func (r *Relay) dispatch(ctx context.Context, tx *gorm.DB, row models.OutboxEvent) (outcome, error) {
	ctx = r.logg.WithFields(ctx, map[string]any{
		"outbox_id":     row.ID.String(),
		"event_type":    string(row.EventType),
		"aggregate_id":  row.AggregateID,
		"attempt_count": row.AttemptCount,
	})

	resolved, err := r.registry.Resolve(row)
	if err != nil {
		return outcomeDeadLettered, r.deadLetter(ctx, tx, row, enums.OutboxDLQReasonNonRetryable, err)
	}
	ctx = r.logg.WithFields(ctx, map[string]any{
		"event_id": resolved.Envelope.EventID,
		"topic":    resolved.Descriptor.Topic,
	})

	serverID, err := r.publish(ctx, row, resolved)
	if err == nil {
		if markErr := r.events.MarkPublishedTx(tx, row.ID); markErr != nil {
			return "", fmt.Errorf("mark published %s: %w", row.ID, markErr)
		}
		r.metrics.IncPublished(string(row.EventType))
		r.logg.Info(r.logg.WithField(ctx, "message_id", serverID), "outbox.published")
		return outcomePublished, nil
	}

	var nonRetryable registry.NonRetryableError
	if errors.As(err, &nonRetryable) {
		return outcomeDeadLettered, r.deadLetter(ctx, tx, row, enums.OutboxDLQReasonNonRetryable, err)
	}
	if row.AttemptCount+1 >= r.maxAttempts {
		return outcomeDeadLettered, r.deadLetter(ctx, tx, row, enums.OutboxDLQReasonMaxAttempts, fmt.Errorf("max publish attempts reached: %w", err))
	}

	if markErr := r.events.MarkFailedTx(tx, row.ID, err); markErr != nil {
		return "", fmt.Errorf("mark failed %s: %w", row.ID, markErr)
	}
	r.metrics.IncFailed(string(row.EventType))
	r.logg.Warn(r.logg.WithField(ctx, "error", err.Error()), "outbox.publish_retry")
	return outcomeRetry, nil
}

func (r *Relay) publish(ctx context.Context, row models.OutboxEvent, resolved *registry.ResolvedEvent) (string, error) {
	pub := r.publishers(resolved.Descriptor.Topic)
	if pub == nil {
		return "", registry.NewNonRetryableError(fmt.Errorf("no publisher for topic %s", resolved.Descriptor.Topic))
	}

	publishCtx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
	defer cancel()
	return pub.Publish(publishCtx, &gcppubsub.Message{
		Data:       row.Payload,
		Attributes: messageAttributes(row, resolved),
	})
}

func messageAttributes(row models.OutboxEvent, resolved *registry.ResolvedEvent) map[string]string {
	attrs := map[string]string{
		"event_id":       resolved.Envelope.EventID,
		"event_type":     string(row.EventType),
		"aggregate_type": string(row.AggregateType),
		"aggregate_id":   row.AggregateID,
	}
	if !resolved.Envelope.OccurredAt.IsZero() {
		attrs["occurred_at"] = resolved.Envelope.OccurredAt.UTC().Format(time.RFC3339Nano)
	}
	return attrs
}

// deadLetter copies the row into the DLQ and pins it at the attempt ceiling.
func (r *Relay) deadLetter(ctx context.Context, tx *gorm.DB, row models.OutboxEvent, reason enums.OutboxDLQErrorReason, cause error) error {
	message := cause.Error()
	entry := models.OutboxDLQ{
		EventID:       row.ID,
		EventType:     row.EventType,
		AggregateType: row.AggregateType,
		AggregateID:   row.AggregateID,
		Payload:       row.Payload,
		ErrorReason:   reason,
		ErrorMessage:  &message,
		AttemptCount:  row.AttemptCount + 1,
		FailedAt:      r.now().UTC(),
	}
	if err := r.deadLetters.InsertTx(tx, entry); err != nil {
		return fmt.Errorf("insert dlq %s: %w", row.ID, err)
	}
	if err := r.events.MarkTerminalTx(tx, row.ID, cause, r.maxAttempts); err != nil {
		return fmt.Errorf("mark terminal %s: %w", row.ID, err)
	}
	r.metrics.IncDeadLettered(string(row.EventType), string(reason))
	r.logg.Warn(r.logg.WithFields(ctx, map[string]any{
		"error":        message,
		"error_reason": string(reason),
	}), "outbox.dead_lettered")
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
