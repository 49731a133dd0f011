// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// origin serves a fixed payload. A blocking origin sends the headers and
// half the body, then waits for release before sending the rest.
type origin struct {
	*httptest.Server
	hits    atomic.Int32
	release chan struct{}
	once    sync.Once
}

func newOrigin(t *testing.T, body []byte, block bool) *origin {
	t.Helper()
	o := &origin{release: make(chan struct{})}
	o.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		o.hits.Add(1)
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		w.WriteHeader(http.StatusOK)
		if !block {
			w.Write(body)
			return
		}
		w.Write(body[:len(body)/2])
		w.(http.Flusher).Flush()
		select {
		case <-o.release:
			w.Write(body[len(body)/2:])
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(o.Close)
	t.Cleanup(o.Release)
	return o
}

// Release lets blocked requests finish.
func (o *origin) Release() { o.once.Do(func() { close(o.release) }) }

func testConfig(t *testing.T) Config {
	t.Helper()
	return Config{
		Addr:        "127.0.0.1",
		BaseDir:     t.TempDir(),
		FallbackDir: t.TempDir(),
		QueueSize:   8,
		Version:     "test",
	}
}

func newTestManager(t *testing.T, cfg Config) *JobManager {
	t.Helper()
	hub := NewWSHub(nil)
	go hub.Run()
	mgr := NewJobManager(cfg, hub)
	t.Cleanup(hub.Stop)
	t.Cleanup(mgr.Close)
	return mgr
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	srv := New(testConfig(t))
	t.Cleanup(srv.Close)
	return srv
}

// waitForJob polls until cond holds for the job or the deadline passes.
func waitForJob(t *testing.T, mgr *JobManager, id string, cond func(Job) bool) Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		job, ok := mgr.GetJob(id)
		if !ok {
			t.Fatalf("job %s disappeared", id)
		}
		if cond(job) {
			return job
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for job %s (status %s)", id, job.Status)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func finished(j Job) bool { return !j.active() }

func isRunning(j Job) bool { return j.Status == JobStatusRunning }

func payload(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte('a' + i%26)
	}
	return b
}
