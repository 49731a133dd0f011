// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/mind/tinyenv/pkg/fileutil"
)

// JobStatus represents the state of a fetch job.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// ErrQueueFull is returned by CreateJob when the worker has too much
// pending work.
var ErrQueueFull = errors.New("job queue is full")

// Job represents one GetFile call made on behalf of an API client.
type Job struct {
	ID            string      `json:"id"`
	Name          string      `json:"name"`
	URL           string      `json:"url"`
	Hash          string      `json:"hash,omitempty"`
	HashAlgo      string      `json:"hashAlgo,omitempty"`
	CacheDir      string      `json:"cacheDir"`
	Extract       bool        `json:"extract,omitempty"`
	ArchiveFormat string      `json:"archiveFormat,omitempty"`
	Status        JobStatus   `json:"status"`
	Cache         string      `json:"cache,omitempty"` // hit, miss, invalid
	Progress      JobProgress `json:"progress"`
	Path          string      `json:"path,omitempty"`
	Error         string      `json:"error,omitempty"`
	CreatedAt     time.Time   `json:"createdAt"`
	StartedAt     *time.Time  `json:"startedAt,omitempty"`
	EndedAt       *time.Time  `json:"endedAt,omitempty"`

	cancel context.CancelFunc
}

// JobProgress holds download progress for a job.
type JobProgress struct {
	ContentLength   int64  `json:"contentLength"`
	EstimatedChunks int64  `json:"estimatedChunks"`
	Chunks          int64  `json:"chunks"`
	DownloadedBytes int64  `json:"downloadedBytes"`
	Extracted       string `json:"extracted,omitempty"`
}

func (j *Job) active() bool {
	return j.Status == JobStatusQueued || j.Status == JobStatusRunning
}

func (j *Job) request() fileutil.Request {
	return fileutil.Request{
		Name:          j.Name,
		URL:           j.URL,
		Hash:          j.Hash,
		HashAlgo:      fileutil.Algorithm(j.HashAlgo),
		CacheDir:      j.CacheDir,
		Extract:       j.Extract,
		ArchiveFormat: fileutil.ArchiveFormat(j.ArchiveFormat),
	}
}

// JobManager queues fetch jobs and runs them one at a time.
type JobManager struct {
	mu         sync.RWMutex
	jobs       map[string]*Job
	config     Config
	log        *slog.Logger
	listeners  []chan Job
	listenerMu sync.RWMutex
	wsHub      *WSHub

	queue chan *Job
	done  chan struct{}
	once  sync.Once
	idle  sync.WaitGroup
}

// NewJobManager creates a job manager and starts its worker.
func NewJobManager(cfg Config, wsHub *WSHub) *JobManager {
	size := cfg.QueueSize
	if size <= 0 {
		size = DefaultConfig().QueueSize
	}
	m := &JobManager{
		jobs:   make(map[string]*Job),
		config: cfg,
		log:    cfg.logger(),
		wsHub:  wsHub,
		queue:  make(chan *Job, size),
		done:   make(chan struct{}),
	}
	m.idle.Add(1)
	go m.work()
	return m
}

// Close stops the worker after the running job, if any, is cancelled.
// Queued jobs stay queued.
func (m *JobManager) Close() {
	m.once.Do(func() {
		close(m.done)
		m.mu.Lock()
		for _, job := range m.jobs {
			if job.Status == JobStatusRunning && job.cancel != nil {
				job.cancel()
			}
		}
		m.mu.Unlock()
	})
	m.idle.Wait()
}

// generateID creates a short random ID.
func generateID() string {
	b := make([]byte, 6)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// CreateJob queues a fetch. It returns the existing job instead when one for
// the same cache entry is already queued or running.
func (m *JobManager) CreateJob(req FetchRequest) (Job, bool, error) {
	req = req.canonical()
	cacheDir := req.CacheDir
	if cacheDir == "" {
		cacheDir = fileutil.DefaultCacheDir
	}

	m.mu.Lock()
	for _, existing := range m.jobs {
		if existing.Name == req.Name && existing.CacheDir == cacheDir && existing.active() {
			snap := *existing
			m.mu.Unlock()
			return snap, true, nil
		}
	}

	job := &Job{
		ID:            generateID(),
		Name:          req.Name,
		URL:           req.URL,
		Hash:          req.Hash,
		HashAlgo:      req.HashAlgo,
		CacheDir:      cacheDir,
		Extract:       req.Extract,
		ArchiveFormat: req.ArchiveFormat,
		Status:        JobStatusQueued,
		CreatedAt:     time.Now(),
	}

	select {
	case m.queue <- job:
	default:
		m.mu.Unlock()
		return Job{}, false, ErrQueueFull
	}
	m.jobs[job.ID] = job
	snap := *job
	m.mu.Unlock()

	m.log.Info("job queued", "id", job.ID, "name", job.Name, "cacheDir", job.CacheDir)
	m.notifyListeners(snap)
	return snap, false, nil
}

// GetJob returns a snapshot of a job by ID.
func (m *JobManager) GetJob(id string) (Job, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *job, true
}

// ListJobs returns snapshots of all jobs, oldest first.
func (m *JobManager) ListJobs() []Job {
	m.mu.RLock()
	defer m.mu.RUnlock()

	jobs := make([]Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		jobs = append(jobs, *job)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.Before(jobs[j].CreatedAt) })
	return jobs
}

// CancelJob cancels a running or queued job.
func (m *JobManager) CancelJob(id string) bool {
	m.mu.Lock()
	job, ok := m.jobs[id]
	if !ok || !job.active() {
		m.mu.Unlock()
		return false
	}
	if job.cancel != nil {
		job.cancel()
	}
	job.Status = JobStatusCancelled
	now := time.Now()
	job.EndedAt = &now
	snap := *job
	m.mu.Unlock()

	m.log.Info("job cancelled", "id", id)
	m.notifyListeners(snap)
	return true
}

// DeleteJob removes a job from the list, cancelling it first if needed.
func (m *JobManager) DeleteJob(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return false
	}
	if job.active() {
		if job.cancel != nil {
			job.cancel()
		}
		job.Status = JobStatusCancelled
	}
	delete(m.jobs, id)
	return true
}

// Subscribe adds a listener for job updates.
func (m *JobManager) Subscribe() chan Job {
	ch := make(chan Job, 100)
	m.listenerMu.Lock()
	m.listeners = append(m.listeners, ch)
	m.listenerMu.Unlock()
	return ch
}

// Unsubscribe removes a listener.
func (m *JobManager) Unsubscribe(ch chan Job) {
	m.listenerMu.Lock()
	defer m.listenerMu.Unlock()

	for i, listener := range m.listeners {
		if listener == ch {
			m.listeners = append(m.listeners[:i], m.listeners[i+1:]...)
			close(ch)
			return
		}
	}
}

func (m *JobManager) notifyListeners(job Job) {
	m.listenerMu.RLock()
	for _, ch := range m.listeners {
		select {
		case ch <- job:
		default:
			// Listener is slow, skip
		}
	}
	m.listenerMu.RUnlock()

	if m.wsHub != nil {
		m.wsHub.BroadcastJob(job)
	}
}

func (m *JobManager) work() {
	defer m.idle.Done()
	for {
		select {
		case <-m.done:
			return
		case job := <-m.queue:
			m.runJob(job)
		}
	}
}

// progressInterval limits how often download progress is broadcast.
const progressInterval = 250 * time.Millisecond

// runJob executes a fetch job on the worker goroutine.
func (m *JobManager) runJob(job *Job) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m.mu.Lock()
	if job.Status != JobStatusQueued {
		// Cancelled while waiting.
		m.mu.Unlock()
		return
	}
	job.cancel = cancel
	job.Status = JobStatusRunning
	now := time.Now()
	job.StartedAt = &now
	req := job.request()
	snap := *job
	m.mu.Unlock()
	m.notifyListeners(snap)

	log := m.log.With("id", job.ID, "name", job.Name)
	settings := fileutil.Settings{
		BaseDir:     m.config.BaseDir,
		FallbackDir: m.config.FallbackDir,
		ChunkSize:   m.config.ChunkSize,
		HTTPClient:  m.config.HTTPClient,
		Logger:      log,
	}

	var lastSent time.Time
	// NOTE: must not hold lock when calling notifyListeners
	progress := func(ev fileutil.ProgressEvent) {
		m.mu.Lock()
		switch ev.Event {
		case "cache_hit":
			job.Cache = "hit"
		case "cache_miss":
			job.Cache = "miss"
		case "cache_invalid":
			job.Cache = "invalid"
		case "file_start":
			job.Progress.ContentLength = ev.ContentLength
			job.Progress.EstimatedChunks = ev.Total
		case "file_progress":
			job.Progress.Chunks++
			job.Progress.DownloadedBytes = ev.Downloaded
			if time.Since(lastSent) < progressInterval {
				m.mu.Unlock()
				return
			}
			lastSent = time.Now()
		case "file_done":
			job.Progress.DownloadedBytes = ev.Downloaded
		case "extract":
			job.Progress.Extracted = ev.Message
		}
		snap := *job
		m.mu.Unlock()
		m.notifyListeners(snap)
	}

	log.Info("job started", "url", job.URL)
	path, err := fileutil.GetFile(ctx, req, settings, progress)

	m.mu.Lock()
	endTime := time.Now()
	job.cancel = nil
	switch {
	case job.Status == JobStatusCancelled || ctx.Err() != nil:
		job.Status = JobStatusCancelled
	case err != nil:
		job.Status = JobStatusFailed
		job.Error = err.Error()
	default:
		job.Status = JobStatusCompleted
		job.Path = path
	}
	if job.EndedAt == nil {
		job.EndedAt = &endTime
	}
	snap = *job
	m.mu.Unlock()

	if err != nil && snap.Status == JobStatusFailed {
		log.Error("job failed", "err", err)
	} else {
		log.Info("job finished", "status", snap.Status, "path", snap.Path, "took", endTime.Sub(now).Round(time.Millisecond))
	}
	m.notifyListeners(snap)
}
