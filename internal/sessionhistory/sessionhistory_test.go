package sessionhistory

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestStorePushAndRecent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sessions.jsonl")

	store, err := Open(path, 100, 5000)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	store.Push(Entry{User: "alice", FinalScene: "live", SwitchCount: 3})
	store.Push(Entry{User: "alice", FinalScene: "offline", SwitchCount: 1})

	entries := store.Recent(0)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[1].FinalScene != "offline" {
		t.Errorf("expected second entry offline, got %q", entries[1].FinalScene)
	}
}

func TestStorePersistenceAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sessions.jsonl")

	store1, err := Open(path, 100, 5000)
	if err != nil {
		t.Fatal(err)
	}
	store1.Push(Entry{User: "alice", FinalScene: "live"})
	store1.Close()

	store2, err := Open(path, 100, 5000)
	if err != nil {
		t.Fatal(err)
	}
	defer store2.Close()

	entries := store2.Recent(0)
	if len(entries) != 1 {
		t.Fatalf("expected 1 persisted entry, got %d", len(entries))
	}
}

func TestTrackerAccumulatesSceneSeconds(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(filepath.Join(dir, "sessions.jsonl"), 100, 5000)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	tr := NewTracker("alice", store, nil)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tr.SessionStarted(base)
	tr.SceneChanged("live", base.Add(10*time.Second))
	tr.SceneChanged("low", base.Add(20*time.Second))
	tr.SessionEnded(base.Add(30 * time.Second))

	entries := store.Recent(0)
	if len(entries) != 1 {
		t.Fatalf("expected 1 finished session, got %d", len(entries))
	}
	e := entries[0]
	if e.SwitchCount != 2 {
		t.Errorf("expected switch count 2, got %d", e.SwitchCount)
	}
	if e.FinalScene != "low" {
		t.Errorf("expected final scene low, got %q", e.FinalScene)
	}
	if e.SceneSeconds["live"] != 10 {
		t.Errorf("expected 10s dwell on live, got %v", e.SceneSeconds["live"])
	}
	if e.SceneSeconds["low"] != 10 {
		t.Errorf("expected 10s dwell on low, got %v", e.SceneSeconds["low"])
	}
	if e.DurationSeconds != 30 {
		t.Errorf("expected 30s total duration, got %v", e.DurationSeconds)
	}
}

func TestTrackerSessionLogKeptWhenSwitchesOccur(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(filepath.Join(dir, "sessions.jsonl"), 100, 5000)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	logDir := filepath.Join(dir, "session-logs")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tr := NewTracker("alice", store, nil).WithSessionLogging(logger, logDir)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tr.SessionStarted(base)
	tr.SceneChanged("live", base.Add(10*time.Second))
	tr.SessionEnded(base.Add(20 * time.Second))

	entries, err := os.ReadDir(filepath.Join(logDir, "alice"))
	if err != nil {
		t.Fatalf("reading session log dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 kept session log, got %d", len(entries))
	}
}

func TestTrackerSessionLogRemovedWhenNoSwitches(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(filepath.Join(dir, "sessions.jsonl"), 100, 5000)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	logDir := filepath.Join(dir, "session-logs")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tr := NewTracker("alice", store, nil).WithSessionLogging(logger, logDir)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tr.SessionStarted(base)
	tr.SessionEnded(base.Add(5 * time.Second))

	entries, err := os.ReadDir(filepath.Join(logDir, "alice"))
	if err != nil {
		t.Fatalf("reading session log dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected session log to be removed, found %d files", len(entries))
	}
}

func TestActiveStorePushAndFilter(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "active.jsonl")

	store, err := OpenActive(path, 100, 1000)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	store.PushSnapshot(ActiveSnapshot{User: "alice", CurrentScene: "live"})
	store.PushSnapshot(ActiveSnapshot{User: "bob", CurrentScene: "low"})

	all := store.Recent(0, "")
	if len(all) != 2 {
		t.Fatalf("expected 2 snapshots, got %d", len(all))
	}

	aliceOnly := store.Recent(0, "alice")
	if len(aliceOnly) != 1 || aliceOnly[0].User != "alice" {
		t.Fatalf("expected 1 snapshot for alice, got %+v", aliceOnly)
	}
}
