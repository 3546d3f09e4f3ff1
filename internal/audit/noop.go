package audit

import (
	"context"
	"time"
)

// NoopSink discards every entry. It satisfies Sink for deployments or
// tests that don't need an audit trail.
type NoopSink struct{}

func (NoopSink) Record(context.Context, Entry) error { return nil }

func (NoopSink) FindByUser(context.Context, string, int) ([]Entry, error) {
	return nil, nil
}

func (NoopSink) FindByPhoneHash(context.Context, string, int) ([]Entry, error) {
	return nil, nil
}

func (NoopSink) CountFailedAttempts(context.Context, string, string, string, time.Time) (int, error) {
	return 0, nil
}

func (NoopSink) ArchiveOlderThan(context.Context, time.Time) (int, error) {
	return 0, nil
}

var _ Sink = NoopSink{}
