// Package notify delivers clinic events to interested parties. Delivery is
// fire-and-forget: no retries, no ordering, and callers treat failures as
// informational.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	EventDiagnosisReady  = "DIAGNOSIS_READY"
	EventLabOrderOverdue = "LAB_ORDER_OVERDUE"
)

type Event struct {
	Type          string    `json:"type"`
	DiagnosisID   string    `json:"diagnosis_id,omitempty"`
	AppointmentID string    `json:"appointment_id,omitempty"`
	OrderID       string    `json:"order_id,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

type Dispatcher interface {
	DiagnosisReady(ctx context.Context, diagnosisID, appointmentID uuid.UUID) error
	LabOrderOverdue(ctx context.Context, orderID uuid.UUID) error
}

// RedisDispatcher publishes events on a Redis channel, keeping delivery
// outside any database transaction.
type RedisDispatcher struct {
	client  *redis.Client
	channel string
}

func NewRedisDispatcher(client *redis.Client, channel string) *RedisDispatcher {
	return &RedisDispatcher{client: client, channel: channel}
}

func (d *RedisDispatcher) DiagnosisReady(ctx context.Context, diagnosisID, appointmentID uuid.UUID) error {
	return d.publish(ctx, Event{
		Type:          EventDiagnosisReady,
		DiagnosisID:   diagnosisID.String(),
		AppointmentID: appointmentID.String(),
		OccurredAt:    time.Now().UTC(),
	})
}

func (d *RedisDispatcher) LabOrderOverdue(ctx context.Context, orderID uuid.UUID) error {
	return d.publish(ctx, Event{
		Type:       EventLabOrderOverdue,
		OrderID:    orderID.String(),
		OccurredAt: time.Now().UTC(),
	})
}

func (d *RedisDispatcher) publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := d.client.Publish(ctx, d.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", ev.Type, err)
	}
	return nil
}

// LogDispatcher writes events to the log. Used in dev setups without a
// subscriber.
type LogDispatcher struct {
	log zerolog.Logger
}

func NewLogDispatcher(log zerolog.Logger) *LogDispatcher {
	return &LogDispatcher{log: log.With().Str("component", "notify").Logger()}
}

func (d *LogDispatcher) DiagnosisReady(_ context.Context, diagnosisID, appointmentID uuid.UUID) error {
	d.log.Info().
		Str("event", EventDiagnosisReady).
		Str("diagnosis_id", diagnosisID.String()).
		Str("appointment_id", appointmentID.String()).
		Msg("event dispatched")
	return nil
}

func (d *LogDispatcher) LabOrderOverdue(_ context.Context, orderID uuid.UUID) error {
	d.log.Info().
		Str("event", EventLabOrderOverdue).
		Str("order_id", orderID.String()).
		Msg("event dispatched")
	return nil
}
