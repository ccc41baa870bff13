package git

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestClient_Lock(t *testing.T) {
	tmpDir := t.TempDir()
	client := NewClient(tmpDir, "", nil)

	unlock, err := client.Lock()
	if err != nil {
		t.Fatalf("Failed to acquire lock: %v", err)
	}

	lockPath := filepath.Join(tmpDir, ".placard.lock")
	if _, err := os.Stat(lockPath); os.IsNotExist(err) {
		t.Error("Lock file not created")
	}

	unlock()

	if _, err := os.Stat(lockPath); !os.IsNotExist(err) {
		t.Error("Lock file not removed after unlock")
	}
}

func TestClient_LockTimeout(t *testing.T) {
	tmpDir := t.TempDir()
	holder := NewClient(tmpDir, "write.lock", nil)
	waiter := NewClient(tmpDir, "write.lock", nil)
	waiter.LockTimeout = 50 * time.Millisecond

	unlock, err := holder.Lock()
	if err != nil {
		t.Fatalf("Failed to acquire lock: %v", err)
	}
	defer unlock()

	if _, err := waiter.Lock(); !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("expected ErrLockTimeout, got %v", err)
	}
}

func TestClient_LockContention(t *testing.T) {
	tmpDir := t.TempDir()
	client := NewClient(tmpDir, "write.lock", nil)

	unlock, err := client.Lock()
	if err != nil {
		t.Fatalf("Failed to acquire lock: %v", err)
	}

	acquired := make(chan struct{})
	go func() {
		second, err := client.Lock()
		if err != nil {
			t.Errorf("second lock failed: %v", err)
			close(acquired)
			return
		}
		second()
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second lock acquired while the first was held")
	case <-time.After(50 * time.Millisecond):
	}

	unlock()
	select {
	case <-acquired:
	case <-time.After(2 * time.Second):
		t.Fatal("second lock never acquired")
	}
}

func TestClient_InitAndCommit(t *testing.T) {
	if !IsInstalled() {
		t.Skip("git not installed")
	}
	tmpDir := t.TempDir()
	client := NewClient(tmpDir, "", nil)

	if err := client.Init(); err != nil {
		t.Fatalf("Failed to init: %v", err)
	}
	if _, err := os.Stat(filepath.Join(tmpDir, ".git")); os.IsNotExist(err) {
		t.Error(".git directory not created")
	}
	if !client.IsRepo() {
		t.Error("expected IsRepo after Init")
	}

	if err := os.WriteFile(filepath.Join(tmpDir, "place.yaml"), []byte("latitude: 1\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := client.Add("place.yaml"); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := client.Commit("feat(place): add place"); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	subjects, err := client.Log(1)
	if err != nil {
		t.Fatalf("Log failed: %v", err)
	}
	if len(subjects) != 1 || subjects[0] != "feat(place): add place" {
		t.Errorf("unexpected log %v", subjects)
	}
}
