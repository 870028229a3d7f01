package adapters

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFileStorageAdapter_SetGet(t *testing.T) {
	adapter, err := NewFileStorageAdapter(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create adapter: %v", err)
	}

	if err := adapter.Set("cly_queue", []byte(`{"cly_queue":[]}`)); err != nil {
		t.Fatalf("failed to set: %v", err)
	}

	got, err := adapter.Get("cly_queue")
	if err != nil {
		t.Fatalf("failed to get: %v", err)
	}
	if string(got) != `{"cly_queue":[]}` {
		t.Fatalf("unexpected blob %q", got)
	}
}

func TestFileStorageAdapter_GetMissing(t *testing.T) {
	adapter, _ := NewFileStorageAdapter(t.TempDir())
	got, err := adapter.Get("nonexistent")
	if err != nil {
		t.Fatalf("expected no error for missing key: %v", err)
	}
	if got != nil {
		t.Fatal("expected nil blob for missing key")
	}
}

func TestFileStorageAdapter_FileLayout(t *testing.T) {
	dir := t.TempDir()
	adapter, _ := NewFileStorageAdapter(dir)
	adapter.Set("cly_id", []byte(`{"cly_id":"abc"}`))

	if _, err := os.Stat(filepath.Join(dir, "__cly_id.json")); err != nil {
		t.Fatalf("expected __cly_id.json to exist: %v", err)
	}
}

func TestFileStorageAdapter_Delete(t *testing.T) {
	dir := t.TempDir()
	adapter, _ := NewFileStorageAdapter(dir)
	adapter.Set("k", []byte("v"))

	if err := adapter.Delete("k"); err != nil {
		t.Fatalf("failed to delete: %v", err)
	}
	if err := adapter.Delete("k"); err != nil {
		t.Fatalf("deleting a missing key should not fail: %v", err)
	}
	got, _ := adapter.Get("k")
	if got != nil {
		t.Fatal("expected key to be gone")
	}
}

func TestFileStorageAdapter_Compression(t *testing.T) {
	dir := t.TempDir()
	adapter, _ := NewFileStorageAdapter(dir, WithCompression())
	value := []byte(strings.Repeat(`{"key":"view","count":1},`, 200))

	if err := adapter.Set("cly_event", value); err != nil {
		t.Fatalf("failed to set: %v", err)
	}

	raw, _ := os.ReadFile(filepath.Join(dir, "__cly_event.json"))
	if !bytes.HasPrefix(raw, zstdMagic) {
		t.Fatal("expected file to be zstd compressed")
	}
	if len(raw) >= len(value) {
		t.Fatalf("expected compressed size below %d, got %d", len(value), len(raw))
	}

	// A plain adapter over the same directory still reads the blob.
	plain, _ := NewFileStorageAdapter(dir)
	got, err := plain.Get("cly_event")
	if err != nil {
		t.Fatalf("failed to get: %v", err)
	}
	if !bytes.Equal(got, value) {
		t.Fatal("decompressed blob does not match")
	}
}

func TestFileStorageAdapter_Quarantine(t *testing.T) {
	dir := t.TempDir()
	adapter, _ := NewFileStorageAdapter(dir)
	adapter.Set("cly_queue", []byte("not json"))

	if err := adapter.Quarantine("cly_queue"); err != nil {
		t.Fatalf("failed to quarantine: %v", err)
	}

	got, _ := adapter.Get("cly_queue")
	if got != nil {
		t.Fatal("expected original key to be empty after quarantine")
	}
	matches, _ := filepath.Glob(filepath.Join(dir, "__cly_queue.*.json"))
	if len(matches) != 1 {
		t.Fatalf("expected one backup file, got %v", matches)
	}
}

func TestFileStorageAdapter_InvalidDir(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	os.WriteFile(file, []byte("x"), 0o644)

	if _, err := NewFileStorageAdapter(filepath.Join(file, "sub")); err == nil {
		t.Fatal("expected error when dir cannot be created")
	}
}
