// Package jobs drives the periodic analysis batch: discover candidate pages,
// analyze a bounded, time-boxed slice of them, run the detectors, send
// alerts, and schedule a resumption when work is left.
//
// Every run goes through the vtq queue, whether it comes from the periodic
// ticker, an API trigger or a resumption, so at most one consumer processes
// a given batch job.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/kseo/analysis"
	"github.com/hazyhaar/kseo/cache"
	"github.com/hazyhaar/kseo/detect"
	"github.com/hazyhaar/kseo/idgen"
	"github.com/hazyhaar/kseo/sitemap"
	"github.com/hazyhaar/kseo/store"
	"github.com/hazyhaar/kseo/vtq"
)

// QueueName is the vtq queue batch jobs are published on.
const QueueName = "kseo_batch"

// ErrAlreadyRunning is returned when a batch is already in progress in
// this process.
var ErrAlreadyRunning = errors.New("jobs: batch already running")

// State is the runner lifecycle.
type State string

const (
	Idle      State = "idle"
	Running   State = "running"
	Completed State = "completed"
	Resumed   State = "resumed"
)

// Discoverer lists candidate page URLs.
type Discoverer interface {
	Discover(ctx context.Context) ([]string, error)
}

// Resolver turns a URL into a page.
type Resolver interface {
	Resolve(ctx context.Context, url string) (sitemap.Page, error)
}

// Scanner is a detector.
type Scanner interface {
	ScanRecent(ctx context.Context) (detect.Report, error)
}

// AlertSender sends alerts for recent detector events.
type AlertSender interface {
	SendRecent(ctx context.Context, since time.Time) (int, error)
}

// ResultStore is the subset of store.Store the runner uses.
type ResultStore interface {
	SaveResult(ctx context.Context, subjectID string, in store.ResultInput) (int64, error)
	LatestBySubject(ctx context.Context, subjectID string) (*store.Result, error)
	AnalyzedSince(ctx context.Context, since int64) (map[string]bool, error)
}

// Config tunes a batch.
type Config struct {
	// MaxURLs bounds the pages analyzed per run. Default: 10.
	MaxURLs int
	// Budget is the wall-clock time allowed per run. Default: 20s.
	Budget time.Duration
	// ResumeDelay is when a follow-up run becomes visible. Default: 5m.
	ResumeDelay time.Duration
	// Interval is the periodic tick, and how long an analyzed page is
	// considered fresh. Default: 7 days.
	Interval time.Duration
	// FailureBackoff skips a page that failed to resolve. Default: Interval.
	FailureBackoff time.Duration
	Logger         *slog.Logger
	Now            func() time.Time
}

func (c *Config) defaults() {
	if c.MaxURLs <= 0 {
		c.MaxURLs = 10
	}
	if c.Budget <= 0 {
		c.Budget = 20 * time.Second
	}
	if c.ResumeDelay <= 0 {
		c.ResumeDelay = 5 * time.Minute
	}
	if c.Interval <= 0 {
		c.Interval = 7 * 24 * time.Hour
	}
	if c.FailureBackoff <= 0 {
		c.FailureBackoff = c.Interval
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Deps are the collaborators of a Runner. Detectors, Alerts, Queue and Cache
// are optional.
type Deps struct {
	Store      ResultStore
	Discoverer Discoverer
	Resolver   Resolver
	Detectors  []Scanner
	Alerts     AlertSender
	Queue      *vtq.Q
	Cache      cache.Store
}

// BatchReport summarises one ProcessBatch.
type BatchReport struct {
	Discovered int       `json:"discovered"`
	Pending    int       `json:"pending"`
	Processed  int       `json:"processed"`
	Failed     int       `json:"failed"`
	Remaining  int       `json:"remaining"`
	Results    []int64   `json:"results"`
	Events     int       `json:"events"`
	AlertsSent int       `json:"alerts_sent"`
	State      State     `json:"state"`
	ResumeAt   time.Time `json:"resume_at,omitempty"`
}

// Runner executes batches.
type Runner struct {
	deps Deps
	cfg  Config

	running sync.Mutex
	mu      sync.Mutex
	state   State
	last    BatchReport
}

// New returns a Runner.
func New(deps Deps, cfg Config) *Runner {
	cfg.defaults()
	if deps.Cache == nil {
		deps.Cache = cache.NewMemory()
	}
	return &Runner{deps: deps, cfg: cfg, state: Idle}
}

// State returns the current lifecycle state.
func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// LastReport returns the report of the most recent finished batch.
func (r *Runner) LastReport() BatchReport {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

func (r *Runner) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

func failKey(url string) string { return "jobs:failed:" + url }

// ProcessBatch runs one batch. Pages analyzed within Interval are not
// candidates, so the pending set shrinks run after run without any stored
// cursor.
func (r *Runner) ProcessBatch(ctx context.Context) (BatchReport, error) {
	if !r.running.TryLock() {
		return BatchReport{}, ErrAlreadyRunning
	}
	defer r.running.Unlock()

	log := r.cfg.Logger
	r.setState(Running)
	start := r.cfg.Now()
	rep := BatchReport{Results: []int64{}}

	urls, err := r.deps.Discoverer.Discover(ctx)
	if err != nil {
		r.setState(Idle)
		return rep, fmt.Errorf("jobs: discover: %w", err)
	}
	rep.Discovered = len(urls)

	fresh, err := r.deps.Store.AnalyzedSince(ctx, start.Add(-r.cfg.Interval).UnixMilli())
	if err != nil {
		r.setState(Idle)
		return rep, fmt.Errorf("jobs: analyzed since: %w", err)
	}
	var pending []string
	for _, u := range urls {
		if fresh[u] {
			continue
		}
		if failed, _ := cache.HasFlag(ctx, r.deps.Cache, failKey(u)); failed {
			continue
		}
		pending = append(pending, u)
	}
	rep.Pending = len(pending)

	attempted := 0
	for _, u := range pending {
		if attempted >= r.cfg.MaxURLs {
			break
		}
		if r.cfg.Now().Sub(start) >= r.cfg.Budget {
			log.Info("jobs: time budget exhausted", "attempted", attempted, "budget", r.cfg.Budget)
			break
		}
		attempted++

		id, err := r.processOne(ctx, u)
		if err != nil {
			rep.Failed++
			log.Warn("jobs: page failed", "url", u, "error", err)
			cache.SetFlag(ctx, r.deps.Cache, failKey(u), r.cfg.FailureBackoff)
			continue
		}
		rep.Processed++
		rep.Results = append(rep.Results, id)
	}
	rep.Remaining = len(pending) - attempted

	for _, d := range r.deps.Detectors {
		dr, err := d.ScanRecent(ctx)
		if err != nil {
			log.Warn("jobs: detector failed", "error", err)
			continue
		}
		rep.Events += len(dr.Events)
	}
	if rep.Events > 0 && r.deps.Alerts != nil {
		n, err := r.deps.Alerts.SendRecent(ctx, r.cfg.Now().Add(-5*time.Minute))
		if err != nil {
			log.Warn("jobs: alerts failed", "error", err)
		}
		rep.AlertsSent = n
	}

	rep.State = Completed
	if rep.Remaining > 0 {
		rep.ResumeAt = r.cfg.Now().Add(r.cfg.ResumeDelay)
		if err := r.scheduleResume(ctx, rep.ResumeAt); err != nil {
			log.Error("jobs: schedule resume failed", "error", err)
		}
		rep.State = Resumed
	}

	r.mu.Lock()
	r.state = rep.State
	r.last = rep
	r.mu.Unlock()

	log.Info("jobs: batch done",
		"state", rep.State, "discovered", rep.Discovered, "pending", rep.Pending,
		"processed", rep.Processed, "failed", rep.Failed, "remaining", rep.Remaining,
		"events", rep.Events, "alerts", rep.AlertsSent,
		"duration_ms", r.cfg.Now().Sub(start).Milliseconds())
	return rep, nil
}

func (r *Runner) processOne(ctx context.Context, url string) (int64, error) {
	page, err := r.deps.Resolver.Resolve(ctx, url)
	if err != nil {
		return 0, err
	}
	seed := page.Seed()
	a := analysis.Analyze(page.Text, seed, "")

	keywords := page.Keywords
	if len(keywords) == 0 && seed != "" {
		keywords = []string{seed}
	}

	before := 0
	if prev, err := r.deps.Store.LatestBySubject(ctx, url); err == nil && prev != nil {
		before = prev.ScoreAfter
	}
	asg := DefaultAssignment(page.SubjectID(), a)

	return r.deps.Store.SaveResult(ctx, url, store.ResultInput{
		Seed:        seed,
		Keywords:    keywords,
		Analysis:    a,
		Assignment:  asg,
		ScoreBefore: before,
		ScoreAfter:  asg.Score,
	})
}

// DefaultAssignment targets the page itself, scored by how easy its seed
// is to rank for.
func DefaultAssignment(url string, a analysis.Result) store.Assignment {
	return store.NewAssignment(url, 100-a.Difficulty, map[string]float64{
		"intent_match": 1,
		"difficulty":   float64(a.Difficulty) / 100,
	})
}

// payload is the body of a queued batch job.
type payload struct {
	Kind string `json:"kind"`
}

// Enqueue publishes a batch job visible now. kind is informational
// ("tick", "manual").
func (r *Runner) Enqueue(ctx context.Context, kind string) (string, error) {
	if r.deps.Queue == nil {
		return "", fmt.Errorf("jobs: no queue configured")
	}
	id := idgen.BatchJob()
	body, _ := json.Marshal(payload{Kind: kind})
	if err := r.deps.Queue.Publish(ctx, id, body); err != nil {
		return "", fmt.Errorf("jobs: enqueue: %w", err)
	}
	return id, nil
}

// scheduleResume publishes the follow-up job. The id is derived from the
// resume second, so two runs resuming at the same instant share one job.
func (r *Runner) scheduleResume(ctx context.Context, at time.Time) error {
	if r.deps.Queue == nil {
		return nil
	}
	body, _ := json.Marshal(payload{Kind: "resume"})
	return r.deps.Queue.PublishAt(ctx, fmt.Sprintf("resume_%d", at.Unix()), body, at)
}

// Handle is the vtq handler for batch jobs.
func (r *Runner) Handle(ctx context.Context, job *vtq.Job) error {
	var p payload
	json.Unmarshal(job.Payload, &p)
	r.cfg.Logger.Info("jobs: batch job claimed", "id", job.ID, "kind", p.Kind, "attempts", job.Attempts)
	_, err := r.ProcessBatch(ctx)
	if errors.Is(err, ErrAlreadyRunning) {
		return nil
	}
	return err
}

// Run consumes the batch queue and enqueues a tick now and every Interval.
// It blocks until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) {
	if r.deps.Queue == nil {
		r.cfg.Logger.Error("jobs: Run needs a queue")
		return
	}
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.deps.Queue.Run(ctx, r.Handle)
	}()

	if _, err := r.Enqueue(ctx, "tick"); err != nil {
		r.cfg.Logger.Warn("jobs: initial tick", "error", err)
	}
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case <-ticker.C:
			if _, err := r.Enqueue(ctx, "tick"); err != nil {
				r.cfg.Logger.Warn("jobs: tick", "error", err)
			}
		}
	}
}
