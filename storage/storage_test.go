package storage

import (
	"errors"
	"path/filepath"
	"testing"

	"mabletask/tracker/database"
)

func exerciseKV(t *testing.T, kv KV) {
	t.Helper()

	if _, err := kv.Get("visitor_id"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get on empty namespace: err = %v, want ErrNotFound", err)
	}
	if err := kv.Set("visitor_id", "abc"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := kv.Set("visitor_id", "def"); err != nil {
		t.Fatalf("Set overwrite: %v", err)
	}
	got, err := kv.Get("visitor_id")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != "def" {
		t.Errorf("Get = %q, want %q", got, "def")
	}
	if err := kv.Delete("visitor_id"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := kv.Get("visitor_id"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after Delete: err = %v, want ErrNotFound", err)
	}
}

func TestMemory(t *testing.T) {
	exerciseKV(t, NewMemory())
}

func TestSQLite(t *testing.T) {
	client, err := database.NewSQLiteDB(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("NewSQLiteDB: %v", err)
	}
	defer client.Close()

	kv, err := NewSQLite(client.DB, "durable")
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	exerciseKV(t, kv)
}

func TestSQLite_NamespacesAreIsolated(t *testing.T) {
	client, err := database.NewSQLiteDB(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("NewSQLiteDB: %v", err)
	}
	defer client.Close()

	durable, err := NewSQLite(client.DB, "durable")
	if err != nil {
		t.Fatalf("NewSQLite durable: %v", err)
	}
	ephemeral, err := NewSQLite(client.DB, "ephemeral")
	if err != nil {
		t.Fatalf("NewSQLite ephemeral: %v", err)
	}

	if err := durable.Set("k", "durable-value"); err != nil {
		t.Fatal(err)
	}
	if err := ephemeral.Set("k", "ephemeral-value"); err != nil {
		t.Fatal(err)
	}
	if err := ephemeral.Clear(); err != nil {
		t.Fatal(err)
	}

	if _, err := ephemeral.Get("k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("ephemeral Get after Clear: err = %v, want ErrNotFound", err)
	}
	got, err := durable.Get("k")
	if err != nil || got != "durable-value" {
		t.Errorf("durable Get = %q, %v; want durable-value", got, err)
	}
}
