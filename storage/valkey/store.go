// Package valkey provides a Valkey-backed TokenStore. It is the shared-store
// extension point for multi-instance deployments: token rows survive process
// restarts and are visible to every instance behind a load balancer.
// Rate-limit and suspicion state intentionally stay in-process.
package valkey

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	valkeygo "github.com/valkey-io/valkey-go"

	"github.com/stevenknowswhy/authguard/clock"
	"github.com/stevenknowswhy/authguard/storage"
)

const (
	// DefaultKeyPrefix is the default prefix for all Valkey keys
	DefaultKeyPrefix = "authguard:"

	// DefaultRetention is the TTL applied to token rows. Refresh tokens
	// outlive access token expiry, so rows are retained well past
	// ExpiresAt and refreshed on every save.
	DefaultRetention = 90 * 24 * time.Hour

	// connectionVerifyTimeout is the timeout for initial connection verification
	connectionVerifyTimeout = 5 * time.Second

	// MaxIDLength is the maximum allowed length for user and provider IDs
	MaxIDLength = 256

	// MaxRecordSize is the maximum size of a serialized record (64KB).
	// Prevents memory exhaustion from oversized payloads.
	MaxRecordSize = 64 * 1024

	// scanBatchSize is the number of keys fetched per SCAN iteration
	scanBatchSize = 100
)

// Config holds configuration for the Valkey storage backend.
type Config struct {
	// Address is the Valkey server address (required), e.g. "localhost:6379"
	Address string

	// Password is the optional password for authentication
	Password string

	// DB is the optional database number (default 0)
	DB int

	// KeyPrefix is the prefix for all keys (default "authguard:")
	KeyPrefix string

	// TLS is the optional TLS configuration for encrypted connections
	TLS *tls.Config

	// Retention is the row TTL (default 90 days)
	Retention time.Duration

	// Logger is the optional structured logger (default slog.Default())
	Logger *slog.Logger

	// Clock is the time source for record timestamps (default the
	// system clock). Injected so tests control UpdatedAt stamping.
	Clock clock.Clock
}

// Store is a Valkey-backed TokenStore.
type Store struct {
	client    valkeygo.Client
	prefix    string
	retention time.Duration
	logger    *slog.Logger
	clock     clock.Clock
}

var _ storage.TokenStore = (*Store)(nil)

// New creates a Valkey-backed store and verifies the connection.
func New(cfg Config) (*Store, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("valkey address is required")
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	retention := cfg.Retention
	if retention <= 0 {
		retention = DefaultRetention
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.System()
	}

	opts := valkeygo.ClientOption{
		InitAddress: []string{cfg.Address},
		SelectDB:    cfg.DB,
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.TLS != nil {
		opts.TLSConfig = cfg.TLS
	}

	client, err := valkeygo.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create valkey client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectionVerifyTimeout)
	defer cancel()

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to valkey: %w", err)
	}

	logger.Info("Connected to Valkey token storage",
		"address", cfg.Address,
		"db", cfg.DB,
		"prefix", prefix)

	return &Store{
		client:    client,
		prefix:    prefix,
		retention: retention,
		logger:    logger,
		clock:     clk,
	}, nil
}

// Close closes the Valkey client connection.
func (s *Store) Close() {
	s.client.Close()
	s.logger.Info("Valkey token storage connection closed")
}

func (s *Store) tokenKey(userID, provider string) string {
	return s.prefix + "token:" + userID + ":" + provider
}

// SaveTokens stores or replaces the record for (UserID, Provider)
func (s *Store) SaveTokens(ctx context.Context, rec *storage.TokenRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	if err := validateStringLength(rec.UserID, MaxIDLength, "userID"); err != nil {
		return err
	}
	if err := validateStringLength(rec.Provider, MaxIDLength, "provider"); err != nil {
		return err
	}

	cp := *rec
	cp.UpdatedAt = s.clock.Now()

	data, err := json.Marshal(&cp)
	if err != nil {
		return fmt.Errorf("failed to marshal token record: %w", err)
	}
	if len(data) > MaxRecordSize {
		return fmt.Errorf("token record exceeds maximum allowed size")
	}

	key := s.tokenKey(rec.UserID, rec.Provider)
	ttl := int64(s.retention.Seconds())
	if err := s.client.Do(ctx, s.client.B().Set().Key(key).Value(string(data)).ExSeconds(ttl).Build()).Error(); err != nil {
		return fmt.Errorf("failed to save token record: %w", err)
	}

	s.logger.Debug("Saved token record", "provider", rec.Provider)
	return nil
}

// GetTokens retrieves the record for a user/provider pair
func (s *Store) GetTokens(ctx context.Context, userID, provider string) (*storage.TokenRecord, error) {
	key := s.tokenKey(userID, provider)

	data, err := s.client.Do(ctx, s.client.B().Get().Key(key).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, storage.ErrTokenNotFound
		}
		return nil, fmt.Errorf("failed to get token record: %w", err)
	}

	var rec storage.TokenRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token record: %w", err)
	}
	return &rec, nil
}

// DeleteTokens removes the record for a user/provider pair
func (s *Store) DeleteTokens(ctx context.Context, userID, provider string) error {
	key := s.tokenKey(userID, provider)
	if err := s.client.Do(ctx, s.client.B().Del().Key(key).Build()).Error(); err != nil {
		return fmt.Errorf("failed to delete token record: %w", err)
	}
	return nil
}

// ListProviders lists the providers with stored tokens for a user
func (s *Store) ListProviders(ctx context.Context, userID string) ([]string, error) {
	pattern := s.prefix + "token:" + userID + ":*"
	trim := len(s.prefix) + len("token:") + len(userID) + 1

	var providers []string
	var cursor uint64
	for {
		result, err := s.client.Do(ctx, s.client.B().Scan().Cursor(cursor).Match(pattern).Count(scanBatchSize).Build()).AsScanEntry()
		if err != nil {
			return nil, fmt.Errorf("failed to scan token records: %w", err)
		}

		for _, key := range result.Elements {
			if len(key) > trim {
				providers = append(providers, key[trim:])
			}
		}

		cursor = result.Cursor
		if cursor == 0 {
			break
		}
	}
	return providers, nil
}

// validateStringLength validates input length to prevent oversized keys
func validateStringLength(value string, maxLen int, fieldName string) error {
	if len(value) > maxLen {
		return fmt.Errorf("%s exceeds maximum length of %d", fieldName, maxLen)
	}
	return nil
}

// isNilError checks if the error indicates a nil/not-found result from
// Valkey, using the library's built-in nil detection.
func isNilError(err error) bool {
	return valkeygo.IsValkeyNil(err)
}
