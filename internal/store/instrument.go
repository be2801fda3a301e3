package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/abhi-singhs/slackhub-messenger-sub000/internal/metrics"
)

// Instrument wraps a RemoteStore with latency and error metrics per
// operation. Subscribe and Presence pass through untouched.
func Instrument(s RemoteStore) RemoteStore {
	return &instrumented{inner: s}
}

type instrumented struct {
	inner RemoteStore
}

func (s *instrumented) observe(op string, start time.Time, err error) {
	metrics.StoreLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.StoreErrors.WithLabelValues(op).Inc()
	}
}

func (s *instrumented) Close() error { return s.inner.Close() }

func (s *instrumented) Ping(ctx context.Context) error {
	start := time.Now()
	err := s.inner.Ping(ctx)
	s.observe("ping", start, err)
	return err
}

func (s *instrumented) Select(ctx context.Context, table Table, filter Filter) ([]json.RawMessage, error) {
	start := time.Now()
	rows, err := s.inner.Select(ctx, table, filter)
	s.observe("select", start, err)
	return rows, err
}

func (s *instrumented) Insert(ctx context.Context, table Table, row json.RawMessage) (json.RawMessage, error) {
	start := time.Now()
	out, err := s.inner.Insert(ctx, table, row)
	s.observe("insert", start, err)
	return out, err
}

func (s *instrumented) Update(ctx context.Context, table Table, id string, patch json.RawMessage) (json.RawMessage, error) {
	start := time.Now()
	out, err := s.inner.Update(ctx, table, id, patch)
	s.observe("update", start, err)
	return out, err
}

func (s *instrumented) Delete(ctx context.Context, table Table, id string) error {
	start := time.Now()
	err := s.inner.Delete(ctx, table, id)
	s.observe("delete", start, err)
	return err
}

func (s *instrumented) Subscribe(ctx context.Context, table Table, fn func(Event)) (func(), error) {
	return s.inner.Subscribe(ctx, table, fn)
}

func (s *instrumented) Presence(scope string) PresenceChannel {
	return s.inner.Presence(scope)
}
