package storage

import (
	"bytes"
	"testing"
)

func TestPutGetRoundtrip(t *testing.T) {
	store, err := NewMediaStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	data := []byte("fake-image-bytes")
	ref, err := store.Put(data, "jpg")
	if err != nil {
		t.Fatalf("put failed: %v", err)
	}
	if ref == "" {
		t.Fatal("expected non-empty reference")
	}

	got, err := store.Get(ref)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("stored bytes differ: got %q, want %q", got, data)
	}
}

func TestPutUniqueReferences(t *testing.T) {
	store, err := NewMediaStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ref1, err := store.Put([]byte("a"), "png")
	if err != nil {
		t.Fatalf("put failed: %v", err)
	}
	ref2, err := store.Put([]byte("a"), "png")
	if err != nil {
		t.Fatalf("put failed: %v", err)
	}
	if ref1 == ref2 {
		t.Errorf("expected distinct references, both were %s", ref1)
	}
}

func TestPutRejectsDisallowedExtension(t *testing.T) {
	store, err := NewMediaStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	for _, ext := range []string{"exe", "svg", "html", ""} {
		if _, err := store.Put([]byte("data"), ext); err == nil {
			t.Errorf("expected error for extension %q", ext)
		}
	}

	// Leading dot and case are normalized
	if _, err := store.Put([]byte("data"), ".JPG"); err != nil {
		t.Errorf("expected .JPG to be accepted, got %v", err)
	}
}

func TestGetRejectsPathTraversal(t *testing.T) {
	store, err := NewMediaStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	if _, err := store.Get("../secret.txt"); err == nil {
		t.Error("expected error for path traversal reference")
	}
}
