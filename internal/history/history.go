// Package history serves the append-only match log of each tournament and
// mirrors committed records to secondary sinks
package history

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/Billy-Davies-2/ladder-bot/internal/dal"
	apperrors "github.com/Billy-Davies-2/ladder-bot/internal/errors"
	"github.com/Billy-Davies-2/ladder-bot/internal/logger"
	"github.com/Billy-Davies-2/ladder-bot/internal/models"
)

// DefaultLength is the number of records returned when no length is requested
const DefaultLength = 10

// Sink receives records after they were committed to the gateway
type Sink interface {
	RecordMatches(ctx context.Context, recs []models.HistoryRecord) error
}

// Log reads history from the gateway and fans committed records out to sinks
type Log struct {
	gw            dal.Gateway
	sinks         []Sink
	defaultLength int
	maxTries      uint
	initialDelay  time.Duration
}

// Option configures a Log
type Option func(*Log)

// WithSink adds a mirror for committed records
func WithSink(s Sink) Option {
	return func(l *Log) {
		if s != nil {
			l.sinks = append(l.sinks, s)
		}
	}
}

// WithDefaultLength overrides DefaultLength
func WithDefaultLength(n int) Option {
	return func(l *Log) {
		if n > 0 {
			l.defaultLength = n
		}
	}
}

// WithRetry sets the number of read attempts and the first backoff delay
func WithRetry(tries uint, initial time.Duration) Option {
	return func(l *Log) {
		if tries > 0 {
			l.maxTries = tries
		}
		if initial > 0 {
			l.initialDelay = initial
		}
	}
}

// New creates a Log over gw
func New(gw dal.Gateway, opts ...Option) *Log {
	l := &Log{
		gw:            gw,
		defaultLength: DefaultLength,
		maxTries:      3,
		initialDelay:  50 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Recent returns up to length records for key, most recent first. A
// non-positive length selects the default
func (l *Log) Recent(ctx context.Context, key models.Key, length int) ([]models.HistoryRecord, error) {
	if length <= 0 {
		length = l.defaultLength
	}

	recs, err := Retry(ctx, l.maxTries, l.initialDelay, "query history", func() ([]models.HistoryRecord, error) {
		return l.gw.QueryHistory(ctx, key, length)
	})
	if err != nil {
		return nil, err
	}
	return recs, nil
}

// Mirror hands committed records to every sink. Sink failures are logged and
// never reach the caller: the gateway is the source of truth
func (l *Log) Mirror(ctx context.Context, recs []models.HistoryRecord) {
	if len(recs) == 0 {
		return
	}
	for _, s := range l.sinks {
		if err := s.RecordMatches(ctx, recs); err != nil {
			logger.Warn("History mirror failed", "records", len(recs), "error", err)
		}
	}
}

// Retry runs a gateway read with exponential backoff. Exhausted retries
// surface as PersistenceUnavailable
func Retry[T any](ctx context.Context, tries uint, initial time.Duration, op string, fn func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.MaxInterval = 20 * initial

	attempt := 0
	out, err := backoff.Retry(ctx, func() (T, error) {
		attempt++
		v, err := fn()
		if err != nil {
			logger.Debug("Gateway read failed", "op", op, "attempt", attempt, "error", err)
		}
		return v, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(tries))
	if err != nil {
		var zero T
		return zero, apperrors.Unavailable(err, op)
	}
	return out, nil
}
