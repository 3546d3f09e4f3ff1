package adapter

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ridewise/authcore/internal/domain"
)

// AuditArchiver is the narrow slice of audit.Sink the cleanup loop needs.
type AuditArchiver interface {
	ArchiveOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

// Cleanup periodically archives audit rows older than the retention window.
// Expired refresh credentials, blacklist entries, and OTP fallback rows are
// not handled here: every one of those DynamoDB items carries a `ttl`
// attribute, and DynamoDB's own TTL sweep deletes them without application
// code — the only maintenance task left for this process is the audit log,
// which is archived (not deleted) for compliance retention.
type Cleanup struct {
	archiver     AuditArchiver
	clock        domain.Clock
	logger       *slog.Logger
	interval     time.Duration
	retentionFor time.Duration

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewCleanup creates a Cleanup loop. interval and retention fall back to
// domain.CleanupInterval/domain.AuditArchiveAfter when zero.
func NewCleanup(archiver AuditArchiver, clock domain.Clock, logger *slog.Logger, interval, retention time.Duration) *Cleanup {
	if interval <= 0 {
		interval = domain.CleanupInterval
	}
	if retention <= 0 {
		retention = domain.AuditArchiveAfter
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cleanup{
		archiver:     archiver,
		clock:        clock,
		logger:       logger,
		interval:     interval,
		retentionFor: retention,
	}
}

// Start runs the cleanup loop in a background goroutine until ctx is
// canceled or Stop is called.
func (c *Cleanup) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.runOnce(ctx)
			}
		}
	}()
}

// Stop cancels the loop and blocks until it exits.
func (c *Cleanup) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
}

func (c *Cleanup) runOnce(ctx context.Context) {
	cutoff := c.clock.Now().UTC().Add(-c.retentionFor)

	count, err := c.archiver.ArchiveOlderThan(ctx, cutoff)
	if err != nil {
		c.logger.ErrorContext(ctx, "audit archival failed", "error", err)
		return
	}
	if count > 0 {
		c.logger.InfoContext(ctx, "audit rows archived", "count", count, "cutoff", cutoff)
	}
}
