package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"mercator-hq/conduit/pkg/providers"
	"mercator-hq/conduit/pkg/usage"
)

func createTempDB(t *testing.T) (*SQLiteStorage, string) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "usage.db")
	s, err := NewSQLiteStorage(DefaultSQLiteConfig(dbPath))
	if err != nil {
		t.Fatalf("Failed to create SQLite storage: %v", err)
	}
	return s, dbPath
}

// forEachStore runs fn against every backend.
func forEachStore(t *testing.T, fn func(t *testing.T, s usage.Store)) {
	t.Run("memory", func(t *testing.T) {
		fn(t, NewMemoryStorage())
	})
	t.Run("sqlite", func(t *testing.T) {
		s, _ := createTempDB(t)
		defer s.Close()
		fn(t, s)
	})
}

func sample(id string, at time.Time) usage.Event {
	c := 0.0042
	return usage.Event{
		ID:               id,
		Timestamp:        at,
		ProviderID:       "openai",
		ModelID:          "gpt-4o-mini",
		PromptTokens:     100,
		CompletionTokens: 20,
		TotalTokens:      120,
		EstimatedCostUSD: &c,
		Success:          true,
		LatencyMs:        340,
		ContextIncluded:  true,
	}
}

func TestNewSQLiteStorage_CreatesFile(t *testing.T) {
	s, dbPath := createTempDB(t)
	defer s.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestNewSQLiteStorage_RequiresPath(t *testing.T) {
	if _, err := NewSQLiteStorage(&SQLiteConfig{}); err == nil {
		t.Error("expected an error for an empty path")
	}
}

func TestStore_SaveLoad(t *testing.T) {
	forEachStore(t, func(t *testing.T, s usage.Store) {
		ctx := context.Background()
		base := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

		failed := sample("02", base.Add(time.Minute))
		failed.Success = false
		failed.EstimatedCostUSD = nil
		failed.ErrorClass = providers.ClassTransient

		if err := s.Save(ctx, []usage.Event{failed, sample("01", base)}); err != nil {
			t.Fatalf("Save() failed: %v", err)
		}
		// Saving the same ids again is a no-op.
		if err := s.Save(ctx, []usage.Event{sample("01", base)}); err != nil {
			t.Fatalf("second Save() failed: %v", err)
		}

		events, err := s.Load(ctx)
		if err != nil {
			t.Fatalf("Load() failed: %v", err)
		}
		if len(events) != 2 {
			t.Fatalf("expected 2 events, got %d", len(events))
		}
		if events[0].ID != "01" || events[1].ID != "02" {
			t.Errorf("events not ordered by timestamp: %q, %q", events[0].ID, events[1].ID)
		}

		got := events[0]
		if !got.Timestamp.Equal(base) {
			t.Errorf("timestamp = %v, want %v", got.Timestamp, base)
		}
		if got.EstimatedCostUSD == nil || *got.EstimatedCostUSD != 0.0042 {
			t.Errorf("cost = %v, want 0.0042", got.EstimatedCostUSD)
		}
		if !got.Success || !got.ContextIncluded || got.TotalTokens != 120 || got.LatencyMs != 340 {
			t.Errorf("unexpected event fields: %+v", got)
		}

		if events[1].EstimatedCostUSD != nil {
			t.Errorf("expected nil cost for failed event, got %v", *events[1].EstimatedCostUSD)
		}
		if events[1].ErrorClass != providers.ClassTransient {
			t.Errorf("error class = %q, want %q", events[1].ErrorClass, providers.ClassTransient)
		}
	})
}

func TestStore_DeleteBeforeAndCount(t *testing.T) {
	forEachStore(t, func(t *testing.T, s usage.Store) {
		ctx := context.Background()
		now := time.Now()

		err := s.Save(ctx, []usage.Event{
			sample("a", now.Add(-72*time.Hour)),
			sample("b", now.Add(-48*time.Hour)),
			sample("c", now),
		})
		if err != nil {
			t.Fatalf("Save() failed: %v", err)
		}

		deleted, err := s.DeleteBefore(ctx, now.Add(-24*time.Hour))
		if err != nil {
			t.Fatalf("DeleteBefore() failed: %v", err)
		}
		if deleted != 2 {
			t.Errorf("deleted = %d, want 2", deleted)
		}

		count, err := s.Count(ctx)
		if err != nil {
			t.Fatalf("Count() failed: %v", err)
		}
		if count != 1 {
			t.Errorf("count = %d, want 1", count)
		}
	})
}

func TestSQLiteStorage_Reopen(t *testing.T) {
	ctx := context.Background()
	s, dbPath := createTempDB(t)
	if err := s.Save(ctx, []usage.Event{sample("x", time.Now())}); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	reopened, err := NewSQLiteStorage(DefaultSQLiteConfig(dbPath))
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	count, _ := reopened.Count(ctx)
	if count != 1 {
		t.Errorf("count after reopen = %d, want 1", count)
	}
}
