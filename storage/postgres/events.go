package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/salonflow/billingkit/pkg/webhook"
)

const eventColumns = `id, provider, external_event_id, event_type, tenant_id, payload,
	status, attempt_count, max_attempts, last_attempt_at, next_retry_at, completed_at,
	error_message, error_stack, processing_time_ms, dismiss_reason, created_at, updated_at`

func scanEvent(row pgx.Row) (*webhook.Event, error) {
	var ev webhook.Event
	var tenantID *string
	var status string

	err := row.Scan(
		&ev.ID, &ev.Provider, &ev.ExternalEventID, &ev.EventType, &tenantID, &ev.Payload,
		&status, &ev.AttemptCount, &ev.MaxAttempts, &ev.LastAttemptAt, &ev.NextRetryAt, &ev.CompletedAt,
		&ev.ErrorMessage, &ev.ErrorStack, &ev.ProcessingTimeMs, &ev.DismissReason, &ev.CreatedAt, &ev.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if tenantID != nil {
		ev.TenantID = *tenantID
	}
	ev.Status = webhook.Status(status)
	return &ev, nil
}

// RegisterIfAbsent implements webhook.Storage. The unique index over
// (provider, external_event_id) makes two concurrent deliveries of the same
// event collapse into one row; the loser reads the winner's row back.
func (s *Storage) RegisterIfAbsent(ctx context.Context, ev *webhook.Event) (*webhook.Event, bool, error) {
	var tenantID *string
	if ev.TenantID != "" {
		tenantID = &ev.TenantID
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO webhook_events
			(id, provider, external_event_id, event_type, tenant_id, payload,
			 status, attempt_count, max_attempts, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8, $9, $9)
		ON CONFLICT (provider, external_event_id) DO NOTHING`,
		ev.ID, ev.Provider, ev.ExternalEventID, ev.EventType, tenantID, ev.Payload,
		string(ev.Status), ev.MaxAttempts, ev.CreatedAt,
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to register webhook event: %w", err)
	}

	if tag.RowsAffected() == 1 {
		evCopy := *ev
		return &evCopy, true, nil
	}

	existing, err := s.GetByKey(ctx, ev.Provider, ev.ExternalEventID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// Get implements webhook.Storage.
func (s *Storage) Get(ctx context.Context, id string) (*webhook.Event, error) {
	ev, err := scanEvent(s.pool.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM webhook_events WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, webhook.ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get webhook event: %w", err)
	}
	return ev, nil
}

// GetByKey implements webhook.Storage.
func (s *Storage) GetByKey(ctx context.Context, provider, externalEventID string) (*webhook.Event, error) {
	ev, err := scanEvent(s.pool.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM webhook_events
			WHERE provider = $1 AND external_event_id = $2`,
		provider, externalEventID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, webhook.ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get webhook event: %w", err)
	}
	return ev, nil
}

// MarkProcessing implements webhook.Storage. The status predicate makes the
// claim conditional: only one of two racing workers gets the row.
func (s *Storage) MarkProcessing(ctx context.Context, id string, at time.Time) (*webhook.Event, error) {
	ev, err := scanEvent(s.pool.QueryRow(ctx,
		`UPDATE webhook_events
			SET status = 'processing',
				attempt_count = attempt_count + 1,
				last_attempt_at = $2,
				next_retry_at = NULL,
				updated_at = $2
			WHERE id = $1 AND status IN ('pending', 'failed')
			RETURNING `+eventColumns, id, at))
	if errors.Is(err, pgx.ErrNoRows) {
		if _, gerr := s.Get(ctx, id); gerr != nil {
			return nil, gerr
		}
		return nil, webhook.ErrStatusConflict
	}
	if err != nil {
		return nil, fmt.Errorf("failed to mark webhook event processing: %w", err)
	}
	return ev, nil
}

// MarkCompleted implements webhook.Storage.
func (s *Storage) MarkCompleted(ctx context.Context, id string, at time.Time, took time.Duration) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE webhook_events
			SET status = 'completed',
				completed_at = $2,
				processing_time_ms = $3,
				error_message = '',
				error_stack = '',
				updated_at = $2
			WHERE id = $1 AND status = 'processing'`,
		id, at, took.Milliseconds())
	if err != nil {
		return fmt.Errorf("failed to mark webhook event completed: %w", err)
	}
	return s.checkTransition(ctx, tag.RowsAffected(), id)
}

// MarkFailed implements webhook.Storage.
func (s *Storage) MarkFailed(ctx context.Context, id string, at time.Time, errMsg, errStack string, nextRetryAt *time.Time, deadLetter bool) error {
	status := "failed"
	if deadLetter {
		status = "dead_letter"
		nextRetryAt = nil
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE webhook_events
			SET status = $2,
				error_message = $3,
				error_stack = $4,
				next_retry_at = $5,
				updated_at = $6
			WHERE id = $1 AND status = 'processing'`,
		id, status, errMsg, errStack, nextRetryAt, at)
	if err != nil {
		return fmt.Errorf("failed to mark webhook event failed: %w", err)
	}
	return s.checkTransition(ctx, tag.RowsAffected(), id)
}

func (s *Storage) checkTransition(ctx context.Context, affected int64, id string) error {
	if affected == 1 {
		return nil
	}
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return webhook.ErrStatusConflict
}

// ListForRetry implements webhook.Storage.
func (s *Storage) ListForRetry(ctx context.Context, now time.Time, limit int) ([]*webhook.Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+eventColumns+` FROM webhook_events
			WHERE status IN ('pending', 'failed')
				AND next_retry_at IS NOT NULL AND next_retry_at <= $1
				AND attempt_count < max_attempts
			ORDER BY next_retry_at ASC
			LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list retry queue: %w", err)
	}
	defer rows.Close()
	return collectEvents(rows)
}

// ListDeadLetter implements webhook.Storage.
func (s *Storage) ListDeadLetter(ctx context.Context, filter webhook.DLQFilter) ([]*webhook.Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+eventColumns+` FROM webhook_events
			WHERE status = 'dead_letter'
				AND ($1 = '' OR provider = $1)
				AND ($2 = '' OR event_type = $2)
				AND ($3 = '' OR tenant_id = $3)
			ORDER BY updated_at DESC
			LIMIT $4`,
		filter.Provider, filter.EventType, filter.TenantID, filter.Limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letter queue: %w", err)
	}
	defer rows.Close()
	return collectEvents(rows)
}

// ResetForRetry implements webhook.Storage.
func (s *Storage) ResetForRetry(ctx context.Context, id string, now time.Time) (*webhook.Event, error) {
	ev, err := scanEvent(s.pool.QueryRow(ctx,
		`UPDATE webhook_events
			SET status = 'pending',
				attempt_count = 0,
				next_retry_at = $2,
				updated_at = $2
			WHERE id = $1 AND status = 'dead_letter'
			RETURNING `+eventColumns, id, now))
	if errors.Is(err, pgx.ErrNoRows) {
		if _, gerr := s.Get(ctx, id); gerr != nil {
			return nil, gerr
		}
		return nil, webhook.ErrNotDeadLettered
	}
	if err != nil {
		return nil, fmt.Errorf("failed to reset webhook event for retry: %w", err)
	}
	return ev, nil
}

// MarkDismissed implements webhook.Storage.
func (s *Storage) MarkDismissed(ctx context.Context, id, reason string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE webhook_events
			SET status = 'dismissed', dismiss_reason = $2, updated_at = $3
			WHERE id = $1 AND status = 'dead_letter'`,
		id, reason, at)
	if err != nil {
		return fmt.Errorf("failed to dismiss webhook event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, gerr := s.Get(ctx, id); gerr != nil {
			return gerr
		}
		return webhook.ErrNotDeadLettered
	}
	return nil
}

// ListStuckProcessing implements webhook.Storage.
func (s *Storage) ListStuckProcessing(ctx context.Context, cutoff time.Time, limit int) ([]*webhook.Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+eventColumns+` FROM webhook_events
			WHERE status = 'processing' AND last_attempt_at <= $1
			ORDER BY last_attempt_at ASC
			LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stuck events: %w", err)
	}
	defer rows.Close()
	return collectEvents(rows)
}

// DeleteCompletedBefore implements webhook.Storage.
func (s *Storage) DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM webhook_events
			WHERE status = 'completed' AND completed_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old completed events: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Stats implements webhook.Storage.
func (s *Storage) Stats(ctx context.Context, now time.Time, window time.Duration) ([]webhook.ProviderStats, error) {
	since := now.Add(-window)

	rows, err := s.pool.Query(ctx,
		`SELECT provider, status, COUNT(*),
				COALESCE(AVG(processing_time_ms)
					FILTER (WHERE status = 'completed' AND completed_at > $1), 0)
			FROM webhook_events
			GROUP BY provider, status
			ORDER BY provider`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate webhook stats: %w", err)
	}
	defer rows.Close()

	byProvider := make(map[string]*webhook.ProviderStats)
	var order []string

	for rows.Next() {
		var provider, status string
		var count int
		var avgMs float64
		if err := rows.Scan(&provider, &status, &count, &avgMs); err != nil {
			return nil, err
		}

		ps, ok := byProvider[provider]
		if !ok {
			ps = &webhook.ProviderStats{Provider: provider, Counts: make(map[webhook.Status]int)}
			byProvider[provider] = ps
			order = append(order, provider)
		}
		ps.Counts[webhook.Status(status)] = count
		if webhook.Status(status) == webhook.StatusCompleted {
			ps.AvgProcessingMs = avgMs
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	stats := make([]webhook.ProviderStats, 0, len(order))
	for _, p := range order {
		stats = append(stats, *byProvider[p])
	}
	return stats, nil
}

func collectEvents(rows pgx.Rows) ([]*webhook.Event, error) {
	var events []*webhook.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}
