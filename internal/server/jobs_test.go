// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestJobManager_CreateJob(t *testing.T) {
	cfg := testConfig(t)
	mgr := newTestManager(t, cfg)
	org := newOrigin(t, payload(4096), false)

	t.Run("defaults cache dir to datasets", func(t *testing.T) {
		job, wasExisting, err := mgr.CreateJob(FetchRequest{Name: "a.csv", URL: org.URL + "/a.csv"})
		if err != nil {
			t.Fatalf("CreateJob failed: %v", err)
		}
		if wasExisting {
			t.Error("Expected new job, got existing")
		}
		if job.CacheDir != "datasets" {
			t.Errorf("Expected cacheDir datasets, got %s", job.CacheDir)
		}
		if job.ID == "" {
			t.Error("Expected a job ID")
		}
	})

	t.Run("completes against origin", func(t *testing.T) {
		job, _, err := mgr.CreateJob(FetchRequest{Name: "b.csv", URL: org.URL + "/b.csv", CacheDir: "tables"})
		if err != nil {
			t.Fatalf("CreateJob failed: %v", err)
		}

		done := waitForJob(t, mgr, job.ID, finished)
		if done.Status != JobStatusCompleted {
			t.Fatalf("Expected completed, got %s (%s)", done.Status, done.Error)
		}
		want := filepath.Join(cfg.BaseDir, "tables", "b.csv")
		if done.Path != want {
			t.Errorf("Expected path %s, got %s", want, done.Path)
		}
		if done.Cache != "miss" {
			t.Errorf("Expected cache miss, got %q", done.Cache)
		}
		if done.Progress.DownloadedBytes != 4096 {
			t.Errorf("Expected 4096 bytes, got %d", done.Progress.DownloadedBytes)
		}
		if done.Progress.EstimatedChunks != 5 {
			t.Errorf("Expected 5 estimated chunks, got %d", done.Progress.EstimatedChunks)
		}
		data, err := os.ReadFile(want)
		if err != nil {
			t.Fatalf("read cached file: %v", err)
		}
		if !bytes.Equal(data, payload(4096)) {
			t.Error("cached file does not match origin")
		}
	})

	t.Run("second fetch is a cache hit", func(t *testing.T) {
		before := org.hits.Load()
		job, _, _ := mgr.CreateJob(FetchRequest{Name: "b.csv", URL: org.URL + "/b.csv", CacheDir: "tables"})
		done := waitForJob(t, mgr, job.ID, finished)
		if done.Cache != "hit" {
			t.Errorf("Expected cache hit, got %q", done.Cache)
		}
		if got := org.hits.Load(); got != before {
			t.Errorf("Expected no requests, got %d", got-before)
		}
	})

	t.Run("failed download", func(t *testing.T) {
		job, _, _ := mgr.CreateJob(FetchRequest{Name: "gone.csv", URL: org.URL + "/missing"})
		done := waitForJob(t, mgr, job.ID, finished)
		if done.Status != JobStatusFailed {
			t.Fatalf("Expected failed, got %s", done.Status)
		}
		if done.Error == "" {
			t.Error("Expected an error message")
		}
	})
}

func TestJobManager_Deduplication(t *testing.T) {
	mgr := newTestManager(t, testConfig(t))
	org := newOrigin(t, payload(64*1024), true)

	first, wasExisting, err := mgr.CreateJob(FetchRequest{Name: "big.bin", URL: org.URL + "/big.bin"})
	if err != nil || wasExisting {
		t.Fatalf("first CreateJob: existing=%v err=%v", wasExisting, err)
	}

	dup, wasExisting, _ := mgr.CreateJob(FetchRequest{Name: "big.bin", URL: org.URL + "/other", CacheDir: "datasets"})
	if !wasExisting {
		t.Error("Expected duplicate to return existing job")
	}
	if dup.ID != first.ID {
		t.Errorf("Expected ID %s, got %s", first.ID, dup.ID)
	}

	other, wasExisting, _ := mgr.CreateJob(FetchRequest{Name: "big.bin", URL: org.URL + "/big.bin", CacheDir: "elsewhere"})
	if wasExisting || other.ID == first.ID {
		t.Error("Expected a new job for a different cache dir")
	}

	org.Release()
	waitForJob(t, mgr, first.ID, finished)
	waitForJob(t, mgr, other.ID, finished)

	// Finished jobs no longer deduplicate.
	again, wasExisting, _ := mgr.CreateJob(FetchRequest{Name: "big.bin", URL: org.URL + "/big.bin"})
	if wasExisting || again.ID == first.ID {
		t.Error("Expected a new job once the first finished")
	}
}

func TestJobManager_Sequential(t *testing.T) {
	mgr := newTestManager(t, testConfig(t))
	org := newOrigin(t, payload(32*1024), true)

	first, _, _ := mgr.CreateJob(FetchRequest{Name: "one.bin", URL: org.URL + "/one"})
	second, _, _ := mgr.CreateJob(FetchRequest{Name: "two.bin", URL: org.URL + "/two"})

	waitForJob(t, mgr, first.ID, isRunning)
	time.Sleep(50 * time.Millisecond)
	if job, _ := mgr.GetJob(second.ID); job.Status != JobStatusQueued {
		t.Errorf("Expected second job queued while first runs, got %s", job.Status)
	}

	org.Release()
	a := waitForJob(t, mgr, first.ID, finished)
	b := waitForJob(t, mgr, second.ID, finished)
	if a.Status != JobStatusCompleted || b.Status != JobStatusCompleted {
		t.Fatalf("Expected both completed, got %s and %s", a.Status, b.Status)
	}
	if b.StartedAt.Before(*a.EndedAt) {
		t.Error("Second job started before the first ended")
	}
}

func TestJobManager_Cancel(t *testing.T) {
	mgr := newTestManager(t, testConfig(t))
	org := newOrigin(t, payload(32*1024), true)

	running, _, _ := mgr.CreateJob(FetchRequest{Name: "run.bin", URL: org.URL + "/run"})
	queued, _, _ := mgr.CreateJob(FetchRequest{Name: "wait.bin", URL: org.URL + "/wait"})
	waitForJob(t, mgr, running.ID, isRunning)

	if !mgr.CancelJob(queued.ID) {
		t.Fatal("Expected queued job to cancel")
	}
	if !mgr.CancelJob(running.ID) {
		t.Fatal("Expected running job to cancel")
	}
	if mgr.CancelJob(running.ID) {
		t.Error("Expected second cancel to fail")
	}
	if mgr.CancelJob("nope") {
		t.Error("Expected unknown job cancel to fail")
	}

	job := waitForJob(t, mgr, running.ID, func(j Job) bool { return j.EndedAt != nil })
	if job.Status != JobStatusCancelled {
		t.Errorf("Expected cancelled, got %s", job.Status)
	}

	// The worker moves on without running the cancelled job.
	next, _, _ := mgr.CreateJob(FetchRequest{Name: "next.bin", URL: org.URL + "/next"})
	org.Release()
	waitForJob(t, mgr, next.ID, finished)
	if got := org.hits.Load(); got != 2 {
		t.Errorf("Expected 2 origin requests, got %d", got)
	}
}

func TestJobManager_DeleteJob(t *testing.T) {
	mgr := newTestManager(t, testConfig(t))
	org := newOrigin(t, payload(1024), false)

	job, _, _ := mgr.CreateJob(FetchRequest{Name: "x.csv", URL: org.URL + "/x"})
	waitForJob(t, mgr, job.ID, finished)

	if !mgr.DeleteJob(job.ID) {
		t.Fatal("Expected delete to succeed")
	}
	if _, ok := mgr.GetJob(job.ID); ok {
		t.Error("Job still listed after delete")
	}
	if mgr.DeleteJob(job.ID) {
		t.Error("Expected second delete to fail")
	}
}

func TestJobManager_QueueFull(t *testing.T) {
	cfg := testConfig(t)
	cfg.QueueSize = 1
	mgr := newTestManager(t, cfg)
	org := newOrigin(t, payload(8192), true)

	first, _, _ := mgr.CreateJob(FetchRequest{Name: "1", URL: org.URL + "/1"})
	waitForJob(t, mgr, first.ID, isRunning)

	if _, _, err := mgr.CreateJob(FetchRequest{Name: "2", URL: org.URL + "/2"}); err != nil {
		t.Fatalf("Expected one queued job to fit: %v", err)
	}
	if _, _, err := mgr.CreateJob(FetchRequest{Name: "3", URL: org.URL + "/3"}); err != ErrQueueFull {
		t.Errorf("Expected ErrQueueFull, got %v", err)
	}
}

func TestJobManager_Subscribe(t *testing.T) {
	mgr := newTestManager(t, testConfig(t))
	org := newOrigin(t, payload(1024), false)

	ch := mgr.Subscribe()
	defer mgr.Unsubscribe(ch)

	job, _, _ := mgr.CreateJob(FetchRequest{Name: "s.csv", URL: org.URL + "/s"})

	timeout := time.After(5 * time.Second)
	seen := map[JobStatus]bool{}
	for !seen[JobStatusCompleted] {
		select {
		case update := <-ch:
			if update.ID != job.ID {
				t.Fatalf("unexpected job %s", update.ID)
			}
			seen[update.Status] = true
		case <-timeout:
			t.Fatalf("timed out; saw %v", seen)
		}
	}
	if !seen[JobStatusQueued] || !seen[JobStatusRunning] {
		t.Errorf("Expected queued and running updates, saw %v", seen)
	}
}

func TestJobManager_CanonicalNames(t *testing.T) {
	mgr := newTestManager(t, testConfig(t))
	body := payload(2048)
	org := newOrigin(t, body, false)

	first, _, _ := mgr.CreateJob(FetchRequest{Name: "c.bin", URL: org.URL + "/c"})
	waitForJob(t, mgr, first.ID, finished)

	sum := sha256.Sum256(body)
	job, _, err := mgr.CreateJob(FetchRequest{
		Name:          "c.bin",
		URL:           org.URL + "/c",
		Hash:          hex.EncodeToString(sum[:]),
		HashAlgo:      "SHA256",
		ArchiveFormat: "Zip",
	})
	if err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}
	if job.HashAlgo != "sha256" || job.ArchiveFormat != "zip" {
		t.Errorf("Expected canonical names, got %q and %q", job.HashAlgo, job.ArchiveFormat)
	}

	done := waitForJob(t, mgr, job.ID, finished)
	if done.Status != JobStatusCompleted {
		t.Fatalf("Expected completed, got %s (%s)", done.Status, done.Error)
	}
	if done.Cache != "hit" {
		t.Errorf("Expected cache hit, got %q", done.Cache)
	}
}
