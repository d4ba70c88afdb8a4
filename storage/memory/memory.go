// Package memory provides an in-memory TokenStore implementation, suitable
// for development, testing, and single-instance deployments.
package memory

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/stevenknowswhy/authguard/clock"
	"github.com/stevenknowswhy/authguard/instrumentation"
	"github.com/stevenknowswhy/authguard/storage"
)

const (
	// DefaultCleanupInterval is how often expired rows are swept
	DefaultCleanupInterval = 5 * time.Minute

	// DefaultInactiveRetention is how long deactivated rows are kept
	// before the sweep evicts them
	DefaultInactiveRetention = 30 * 24 * time.Hour
)

// Config holds options for the in-memory store.
type Config struct {
	// CleanupInterval is how often the background sweep runs.
	// Zero means DefaultCleanupInterval.
	CleanupInterval time.Duration

	// InactiveRetention is how long inactive rows survive before eviction.
	// Zero means DefaultInactiveRetention.
	InactiveRetention time.Duration

	// Logger is the structured logger (default slog.Default())
	Logger *slog.Logger

	// Clock is the time source (default system clock)
	Clock clock.Clock

	// Instrumentation enables storage metrics and tracing (optional)
	Instrumentation *instrumentation.Instrumentation
}

// Store is an in-memory TokenStore.
type Store struct {
	mu      sync.RWMutex
	records map[string]*storage.TokenRecord

	rowCount atomic.Int64

	inst   *instrumentation.Instrumentation
	tracer trace.Tracer

	retention time.Duration
	clock     clock.Clock
	logger    *slog.Logger

	stopCleanup chan struct{}
	stopOnce    sync.Once
}

var _ storage.TokenStore = (*Store)(nil)

// New creates an in-memory store and starts its cleanup loop.
func New(cfg Config) *Store {
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = DefaultCleanupInterval
	}
	if cfg.InactiveRetention <= 0 {
		cfg.InactiveRetention = DefaultInactiveRetention
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.System()
	}

	s := &Store{
		records:     make(map[string]*storage.TokenRecord),
		inst:        cfg.Instrumentation,
		retention:   cfg.InactiveRetention,
		clock:       cfg.Clock,
		logger:      cfg.Logger,
		stopCleanup: make(chan struct{}),
	}
	if s.inst != nil {
		s.tracer = s.inst.Tracer("storage")
	}

	go s.cleanupLoop(cfg.CleanupInterval)

	return s
}

func recordKey(userID, provider string) string {
	return userID + "|" + provider
}

// SaveTokens stores or replaces the record for (UserID, Provider)
func (s *Store) SaveTokens(ctx context.Context, rec *storage.TokenRecord) error {
	provider := ""
	if rec != nil {
		provider = rec.Provider
	}
	ctx, end := s.startOp(ctx, "save_tokens", provider)
	if err := rec.Validate(); err != nil {
		end(ctx, err)
		return err
	}

	cp := *rec
	cp.UpdatedAt = s.clock.Now()

	s.mu.Lock()
	_, existed := s.records[recordKey(rec.UserID, rec.Provider)]
	s.records[recordKey(rec.UserID, rec.Provider)] = &cp
	s.mu.Unlock()

	if !existed {
		s.rowCount.Add(1)
	}

	s.logger.Debug("Saved token record", "provider", rec.Provider)
	end(ctx, nil)
	return nil
}

// GetTokens retrieves the record for a user/provider pair
func (s *Store) GetTokens(ctx context.Context, userID, provider string) (*storage.TokenRecord, error) {
	ctx, end := s.startOp(ctx, "get_tokens", provider)

	s.mu.RLock()
	rec, ok := s.records[recordKey(userID, provider)]
	s.mu.RUnlock()

	if !ok {
		end(ctx, storage.ErrTokenNotFound)
		return nil, storage.ErrTokenNotFound
	}

	cp := *rec
	end(ctx, nil)
	return &cp, nil
}

// DeleteTokens removes the record for a user/provider pair
func (s *Store) DeleteTokens(ctx context.Context, userID, provider string) error {
	ctx, end := s.startOp(ctx, "delete_tokens", provider)

	s.mu.Lock()
	_, existed := s.records[recordKey(userID, provider)]
	delete(s.records, recordKey(userID, provider))
	s.mu.Unlock()

	if existed {
		s.rowCount.Add(-1)
	}

	end(ctx, nil)
	return nil
}

// ListProviders lists the providers with stored tokens for a user
func (s *Store) ListProviders(ctx context.Context, userID string) ([]string, error) {
	ctx, end := s.startOp(ctx, "list_providers", "")

	s.mu.RLock()
	var providers []string
	for _, rec := range s.records {
		if rec.UserID == userID {
			providers = append(providers, rec.Provider)
		}
	}
	s.mu.RUnlock()

	end(ctx, nil)
	return providers, nil
}

// Len returns the number of stored records
func (s *Store) Len() int {
	return int(s.rowCount.Load())
}

// Cleanup evicts inactive records past their retention period.
// Safe to call concurrently with the request path.
func (s *Store) Cleanup() {
	now := s.clock.Now()
	cutoff := now.Add(-s.retention)

	s.mu.Lock()
	removed := 0
	for key, rec := range s.records {
		if !rec.IsActive && rec.UpdatedAt.Before(cutoff) {
			delete(s.records, key)
			removed++
		}
	}
	s.mu.Unlock()

	if removed > 0 {
		s.rowCount.Add(int64(-removed))
		s.logger.Debug("Token store cleanup completed", "removed", removed)
	}
}

// Stop gracefully stops the cleanup goroutine. Safe to call multiple times.
func (s *Store) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCleanup)
	})
}

func (s *Store) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Cleanup()
		case <-s.stopCleanup:
			return
		}
	}
}

// startOp begins a traced, timed storage operation. The returned end
// function records duration, result, and any error.
func (s *Store) startOp(ctx context.Context, operation, provider string) (context.Context, func(context.Context, error)) {
	if s.inst == nil {
		return ctx, func(context.Context, error) {}
	}

	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "memory."+operation)
	instrumentation.SetSpanAttributes(span,
		attribute.String(instrumentation.AttrStorageOperation, operation),
		attribute.String(instrumentation.AttrStorageBackend, "memory"),
	)
	if provider != "" {
		instrumentation.SetSpanAttributes(span,
			attribute.String(instrumentation.AttrProvider, provider))
	}

	return ctx, func(ctx context.Context, err error) {
		result := "success"
		if err != nil {
			result = "error"
			instrumentation.RecordError(span, err)
		}
		attrs := metric.WithAttributes(
			attribute.String(instrumentation.AttrStorageOperation, operation),
			attribute.String(instrumentation.AttrStorageBackend, "memory"),
			attribute.String(instrumentation.AttrStorageResult, result),
		)
		s.inst.Metrics().StorageOperations.Add(ctx, 1, attrs)
		s.inst.Metrics().StorageOperationDuration.Record(ctx, float64(time.Since(start).Milliseconds()), attrs)
		span.End()
	}
}
