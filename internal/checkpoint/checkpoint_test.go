package checkpoint

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"tap-newrelic/internal/stream"
)

func openStores(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()

	sqlite, err := NewSQLiteStore(filepath.Join(dir, "checkpoint.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { sqlite.Close() })

	state, err := NewStateFile(filepath.Join(dir, "nested", "state.json"))
	if err != nil {
		t.Fatalf("NewStateFile: %v", err)
	}

	return map[string]Store{"sqlite": sqlite, "state": state}
}

func TestStores_LoadMissingIsNil(t *testing.T) {
	for name, s := range openStores(t) {
		wm, err := s.LoadWatermark(context.Background(), "synthetic_checks")
		if err != nil {
			t.Errorf("%s: LoadWatermark: %v", name, err)
		}
		if wm != nil {
			t.Errorf("%s: watermark = %v, want nil", name, wm)
		}
	}
}

func TestStores_SaveAndLoad(t *testing.T) {
	ctx := context.Background()
	first := stream.FromMillis(1704103201500)
	second := stream.FromMillis(1704103205000)

	for name, s := range openStores(t) {
		if err := s.SaveWatermark(ctx, "synthetic_checks", &first); err != nil {
			t.Fatalf("%s: SaveWatermark: %v", name, err)
		}
		if err := s.SaveWatermark(ctx, "synthetic_checks", &second); err != nil {
			t.Fatalf("%s: SaveWatermark: %v", name, err)
		}
		if err := s.SaveWatermark(ctx, "mobile_app", nil); err != nil {
			t.Fatalf("%s: SaveWatermark(nil): %v", name, err)
		}

		wm, err := s.LoadWatermark(ctx, "synthetic_checks")
		if err != nil {
			t.Fatalf("%s: LoadWatermark: %v", name, err)
		}
		if wm == nil || !wm.Equal(second) {
			t.Errorf("%s: watermark = %v, want %v", name, wm, second)
		}

		none, err := s.LoadWatermark(ctx, "mobile_app")
		if err != nil || none != nil {
			t.Errorf("%s: mobile_app watermark = %v, %v, want nil", name, none, err)
		}

		list, err := s.ListBookmarks(ctx)
		if err != nil {
			t.Fatalf("%s: ListBookmarks: %v", name, err)
		}
		if len(list) != 2 || list[0].Stream != "mobile_app" || list[1].Stream != "synthetic_checks" {
			t.Errorf("%s: bookmarks = %+v", name, list)
		}
		if list[1].Key != ReplicationKey {
			t.Errorf("%s: replication key = %q", name, list[1].Key)
		}
	}
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "checkpoint.db")
	wm := stream.FromMillis(1704103201123)

	s, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	if err := s.SaveWatermark(ctx, "synthetic_checks", &wm); err != nil {
		t.Fatalf("SaveWatermark: %v", err)
	}
	s.Close()

	if _, err := s.LoadWatermark(ctx, "synthetic_checks"); err == nil {
		t.Error("closed store should refuse reads")
	}

	reopened, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.LoadWatermark(ctx, "synthetic_checks")
	if err != nil {
		t.Fatalf("LoadWatermark: %v", err)
	}
	if got == nil || got.Millis() != wm.Millis() {
		t.Errorf("watermark = %v, want %v", got, wm)
	}
}

func TestStateFile_SingerLayout(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.json")
	initial := `{"bookmarks":{"mobile_app":{"replication_key":"timestamp","replication_key_value":"2024-01-01T10:00:01.250000+00:00"}}}`
	if err := os.WriteFile(path, []byte(initial), 0644); err != nil {
		t.Fatal(err)
	}

	s, err := NewStateFile(path)
	if err != nil {
		t.Fatalf("NewStateFile: %v", err)
	}
	wm, err := s.LoadWatermark(ctx, "mobile_app")
	if err != nil {
		t.Fatalf("LoadWatermark: %v", err)
	}
	if wm == nil || wm.String() != "2024-01-01T10:00:01.250000+00:00" {
		t.Fatalf("watermark = %v", wm)
	}

	next := stream.FromMillis(1704103262000)
	if err := s.SaveWatermark(ctx, "mobile_app", &next); err != nil {
		t.Fatalf("SaveWatermark: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var doc map[string]map[string]map[string]string
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("state file is not singer state: %v\n%s", err, data)
	}
	if got := doc["bookmarks"]["mobile_app"]["replication_key_value"]; got != "2024-01-01T10:01:02+00:00" {
		t.Errorf("replication_key_value = %q", got)
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("temp files left behind: %d entries", len(entries))
	}
}

func TestStateFile_RejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte("not json"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewStateFile(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestReadOnly_DiscardsSaves(t *testing.T) {
	ctx := context.Background()
	inner, err := NewStateFile(filepath.Join(t.TempDir(), "state.json"))
	if err != nil {
		t.Fatal(err)
	}
	ro := ReadOnly{Store: inner}

	wm := stream.FromMillis(1704103201000)
	if err := ro.SaveWatermark(ctx, "synthetic_checks", &wm); err != nil {
		t.Fatalf("SaveWatermark: %v", err)
	}
	if got, _ := ro.LoadWatermark(ctx, "synthetic_checks"); got != nil {
		t.Errorf("watermark = %v, want nil after a read-only save", got)
	}
}
