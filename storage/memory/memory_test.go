package memory

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stevenknowswhy/authguard/clock"
	"github.com/stevenknowswhy/authguard/storage"
	"github.com/stevenknowswhy/authguard/vault"
)

var testStart = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) (*Store, *clock.Fake) {
	t.Helper()
	fake := clock.NewFake(testStart)
	s := New(Config{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Clock:  fake,
	})
	t.Cleanup(s.Stop)
	return s, fake
}

func testRecord(userID, provider string) *storage.TokenRecord {
	return &storage.TokenRecord{
		UserID:   userID,
		Provider: provider,
		AccessToken: &vault.EncryptedPayload{
			Ciphertext: []byte{1, 2, 3},
			IV:         make([]byte, 12),
			Salt:       make([]byte, 16),
			AuthTag:    make([]byte, 16),
			Algorithm:  vault.Algorithm,
		},
		Scopes:   []string{"openid"},
		IsActive: true,
	}
}

func TestSaveAndGet(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if err := s.SaveTokens(ctx, testRecord("alice", "github")); err != nil {
		t.Fatalf("SaveTokens() error = %v", err)
	}

	got, err := s.GetTokens(ctx, "alice", "github")
	if err != nil {
		t.Fatalf("GetTokens() error = %v", err)
	}
	if got.UserID != "alice" || got.Provider != "github" {
		t.Errorf("GetTokens() = %+v", got)
	}
	if got.UpdatedAt.IsZero() {
		t.Error("UpdatedAt not stamped on save")
	}
	if s.Len() != 1 {
		t.Errorf("Len() = %d, want 1", s.Len())
	}
}

func TestSaveReplaces(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	rec := testRecord("alice", "github")
	if err := s.SaveTokens(ctx, rec); err != nil {
		t.Fatalf("SaveTokens() error = %v", err)
	}

	rec2 := testRecord("alice", "github")
	rec2.Scopes = []string{"openid", "repo"}
	if err := s.SaveTokens(ctx, rec2); err != nil {
		t.Fatalf("SaveTokens() replace error = %v", err)
	}

	got, err := s.GetTokens(ctx, "alice", "github")
	if err != nil {
		t.Fatalf("GetTokens() error = %v", err)
	}
	if len(got.Scopes) != 2 {
		t.Errorf("Scopes = %v, want replaced record", got.Scopes)
	}
	if s.Len() != 1 {
		t.Errorf("Len() = %d, want 1 after replace", s.Len())
	}
}

func TestSaveValidation(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(r *storage.TokenRecord)
	}{
		{"missing user", func(r *storage.TokenRecord) { r.UserID = "" }},
		{"missing provider", func(r *storage.TokenRecord) { r.Provider = "" }},
		{"missing access token", func(r *storage.TokenRecord) { r.AccessToken = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := testRecord("alice", "github")
			tt.mutate(rec)
			if err := s.SaveTokens(ctx, rec); err == nil {
				t.Error("SaveTokens() error = nil, want validation error")
			}
		})
	}
}

func TestGetNotFound(t *testing.T) {
	s, _ := newTestStore(t)

	_, err := s.GetTokens(context.Background(), "nobody", "github")
	if !errors.Is(err, storage.ErrTokenNotFound) {
		t.Errorf("GetTokens() error = %v, want ErrTokenNotFound", err)
	}
}

func TestGetReturnsCopy(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if err := s.SaveTokens(ctx, testRecord("alice", "github")); err != nil {
		t.Fatalf("SaveTokens() error = %v", err)
	}

	first, _ := s.GetTokens(ctx, "alice", "github")
	first.Provider = "mutated"

	second, _ := s.GetTokens(ctx, "alice", "github")
	if second.Provider != "github" {
		t.Error("mutating a returned record leaked into the store")
	}
}

func TestDelete(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if err := s.SaveTokens(ctx, testRecord("alice", "github")); err != nil {
		t.Fatalf("SaveTokens() error = %v", err)
	}
	if err := s.DeleteTokens(ctx, "alice", "github"); err != nil {
		t.Fatalf("DeleteTokens() error = %v", err)
	}
	if _, err := s.GetTokens(ctx, "alice", "github"); !errors.Is(err, storage.ErrTokenNotFound) {
		t.Errorf("GetTokens() after delete error = %v, want ErrTokenNotFound", err)
	}
	if s.Len() != 0 {
		t.Errorf("Len() = %d, want 0", s.Len())
	}

	// Deleting a missing record is not an error.
	if err := s.DeleteTokens(ctx, "alice", "github"); err != nil {
		t.Errorf("DeleteTokens() on missing record error = %v", err)
	}
}

func TestListProviders(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	s.SaveTokens(ctx, testRecord("alice", "github"))
	s.SaveTokens(ctx, testRecord("alice", "google"))
	s.SaveTokens(ctx, testRecord("bob", "github"))

	providers, err := s.ListProviders(ctx, "alice")
	if err != nil {
		t.Fatalf("ListProviders() error = %v", err)
	}
	sort.Strings(providers)
	if len(providers) != 2 || providers[0] != "github" || providers[1] != "google" {
		t.Errorf("ListProviders() = %v, want [github google]", providers)
	}

	empty, err := s.ListProviders(ctx, "nobody")
	if err != nil {
		t.Fatalf("ListProviders() error = %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("ListProviders() = %v, want empty", empty)
	}
}

func TestCleanupEvictsStaleInactiveRows(t *testing.T) {
	s, fake := newTestStore(t)
	ctx := context.Background()

	inactive := testRecord("alice", "github")
	inactive.IsActive = false
	s.SaveTokens(ctx, inactive)
	s.SaveTokens(ctx, testRecord("bob", "github"))

	fake.Advance(DefaultInactiveRetention + time.Hour)
	s.Cleanup()

	if _, err := s.GetTokens(ctx, "alice", "github"); !errors.Is(err, storage.ErrTokenNotFound) {
		t.Error("stale inactive record should have been evicted")
	}
	if _, err := s.GetTokens(ctx, "bob", "github"); err != nil {
		t.Errorf("active record was evicted: %v", err)
	}
	if s.Len() != 1 {
		t.Errorf("Len() = %d, want 1", s.Len())
	}
}

func TestConcurrentAccess(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			user := string(rune('a' + n))
			for j := 0; j < 50; j++ {
				s.SaveTokens(ctx, testRecord(user, "github"))
				s.GetTokens(ctx, user, "github")
				s.ListProviders(ctx, user)
			}
		}(i)
	}
	wg.Wait()

	if s.Len() != 8 {
		t.Errorf("Len() = %d, want 8", s.Len())
	}
}
