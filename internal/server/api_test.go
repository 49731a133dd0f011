// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAPI_Health(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest("GET", "/api/health", nil)
	w := httptest.NewRecorder()

	srv.handleHealth(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}

	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)

	if resp["status"] != "ok" {
		t.Errorf("Expected status ok, got %v", resp["status"])
	}
	if resp["version"] != "test" {
		t.Errorf("Expected version test, got %v", resp["version"])
	}
}

func TestAPI_GetSettings(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest("GET", "/api/settings", nil)
	w := httptest.NewRecorder()

	srv.handleGetSettings(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}

	var resp SettingsResponse
	json.Unmarshal(w.Body.Bytes(), &resp)

	if resp.BaseDir != srv.config.BaseDir {
		t.Errorf("Expected baseDir %s, got %s", srv.config.BaseDir, resp.BaseDir)
	}
	if resp.ResolvedDir != srv.config.BaseDir {
		t.Errorf("Expected resolvedDir %s, got %s", srv.config.BaseDir, resp.ResolvedDir)
	}
	if resp.QueueSize != 8 {
		t.Errorf("Expected queueSize 8, got %d", resp.QueueSize)
	}
}

func TestAPI_Fetch_Validation(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"invalid JSON", `{invalid}`},
		{"missing name", `{"url": "http://example.com/a.csv"}`},
		{"missing url", `{"name": "a.csv"}`},
		{"non-http url", `{"name": "a.csv", "url": "file:///etc/passwd"}`},
		{"absolute name", `{"name": "/etc/passwd", "url": "http://example.com/a"}`},
		{"escaping name", `{"name": "../../.bashrc", "url": "http://example.com/a"}`},
		{"escaping cacheDir", `{"name": "a.csv", "url": "http://example.com/a", "cacheDir": "../x"}`},
		{"unknown hashAlgo", `{"name": "a.csv", "url": "http://example.com/a", "hashAlgo": "sha1"}`},
		{"unknown archiveFormat", `{"name": "a.csv", "url": "http://example.com/a", "archiveFormat": "rar"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/api/fetch", bytes.NewBufferString(tt.body))
			w := httptest.NewRecorder()

			srv.handleFetch(w, req)

			if w.Code != http.StatusBadRequest {
				t.Errorf("Expected 400, got %d: %s", w.Code, w.Body.String())
			}
		})
	}

	if n := len(srv.jobs.ListJobs()); n != 0 {
		t.Errorf("Expected no jobs, got %d", n)
	}
}

func TestAPI_Fetch_Dedup(t *testing.T) {
	srv := newTestServer(t)
	org := newOrigin(t, payload(16*1024), true)
	body := `{"name": "data.bin", "url": "` + org.URL + `/data.bin", "cacheDir": "sets"}`

	w := httptest.NewRecorder()
	srv.handleFetch(w, httptest.NewRequest("POST", "/api/fetch", bytes.NewBufferString(body)))
	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d: %s", w.Code, w.Body.String())
	}
	var job Job
	json.Unmarshal(w.Body.Bytes(), &job)
	if job.Name != "data.bin" || job.CacheDir != "sets" {
		t.Errorf("Unexpected job: %+v", job)
	}

	w = httptest.NewRecorder()
	srv.handleFetch(w, httptest.NewRequest("POST", "/api/fetch", bytes.NewBufferString(body)))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 for duplicate, got %d", w.Code)
	}
	var dup struct {
		Job     Job    `json:"job"`
		Message string `json:"message"`
	}
	json.Unmarshal(w.Body.Bytes(), &dup)
	if dup.Job.ID != job.ID {
		t.Errorf("Expected existing job %s, got %s", job.ID, dup.Job.ID)
	}
}

func TestAPI_Routes(t *testing.T) {
	srv := newTestServer(t)
	org := newOrigin(t, payload(2048), false)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/fetch", "application/json",
		bytes.NewBufferString(`{"name": "r.csv", "url": "`+org.URL+`/r.csv"}`))
	if err != nil {
		t.Fatalf("POST /api/fetch: %v", err)
	}
	var job Job
	json.NewDecoder(resp.Body).Decode(&job)
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d", resp.StatusCode)
	}

	waitForJob(t, srv.jobs, job.ID, finished)

	resp, err = http.Get(ts.URL + "/api/jobs/" + job.ID)
	if err != nil {
		t.Fatalf("GET job: %v", err)
	}
	var got Job
	json.NewDecoder(resp.Body).Decode(&got)
	resp.Body.Close()
	if got.Status != JobStatusCompleted {
		t.Errorf("Expected completed, got %s (%s)", got.Status, got.Error)
	}

	resp, _ = http.Get(ts.URL + "/api/jobs")
	var list struct {
		Jobs  []Job `json:"jobs"`
		Count int   `json:"count"`
	}
	json.NewDecoder(resp.Body).Decode(&list)
	resp.Body.Close()
	if list.Count != 1 || len(list.Jobs) != 1 {
		t.Errorf("Expected 1 job, got %d", list.Count)
	}

	resp, _ = http.Get(ts.URL + "/api/jobs/nope")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown job, got %d", resp.StatusCode)
	}

	// Finished jobs cannot be cancelled.
	req, _ := http.NewRequest("DELETE", ts.URL+"/api/jobs/"+job.ID, nil)
	resp, _ = http.DefaultClient.Do(req)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 cancelling a finished job, got %d", resp.StatusCode)
	}

	resp, _ = http.Get(ts.URL + "/api/download")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown route, got %d", resp.StatusCode)
	}
}

func TestAPI_CancelJob(t *testing.T) {
	srv := newTestServer(t)
	org := newOrigin(t, payload(16*1024), true)

	job, _, _ := srv.jobs.CreateJob(FetchRequest{Name: "c.bin", URL: org.URL + "/c"})
	waitForJob(t, srv.jobs, job.ID, isRunning)

	req := httptest.NewRequest("DELETE", "/api/jobs/"+job.ID, nil)
	req.SetPathValue("id", job.ID)
	w := httptest.NewRecorder()
	srv.handleCancelJob(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if got, _ := srv.jobs.GetJob(job.ID); got.Status != JobStatusCancelled {
		t.Errorf("Expected cancelled, got %s", got.Status)
	}
}

func TestAPI_CORS(t *testing.T) {
	cfg := testConfig(t)
	cfg.AllowedOrigins = []string{"http://allowed.example"}
	srv := New(cfg)
	defer srv.Close()
	h := srv.Handler()

	tests := []struct {
		origin string
		want   string
	}{
		{"http://allowed.example", "http://allowed.example"},
		{"http://evil.example", ""},
	}
	for _, tt := range tests {
		req := httptest.NewRequest("OPTIONS", "/api/fetch", nil)
		req.Header.Set("Origin", tt.origin)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		if w.Code != http.StatusNoContent {
			t.Errorf("Expected 204 for preflight, got %d", w.Code)
		}
		if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.want {
			t.Errorf("origin %s: Expected allow-origin %q, got %q", tt.origin, tt.want, got)
		}
	}
}
