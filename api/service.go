// Package api exposes kseo over HTTP (chi) and MCP. Both transports call
// the same Service methods.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hazyhaar/kseo/analysis"
	"github.com/hazyhaar/kseo/audit"
	"github.com/hazyhaar/kseo/jobs"
	"github.com/hazyhaar/kseo/kit"
	"github.com/hazyhaar/kseo/recommend"
	"github.com/hazyhaar/kseo/store"
)

// ErrEmptyInput is returned when a request carries neither content nor title.
var ErrEmptyInput = errors.New("api: content or title is required")

// Store is the persistence the API needs.
type Store interface {
	SaveResult(ctx context.Context, subjectID string, in store.ResultInput) (int64, error)
	LatestBySubject(ctx context.Context, subjectID string) (*store.Result, error)
	ListEvents(ctx context.Context, f store.EventFilter) ([]*store.Event, error)
	LogEvent(ctx context.Context, typ string, in store.EventInput) (int64, error)
}

// Batcher queues a background batch run.
type Batcher interface {
	Enqueue(ctx context.Context, kind string) (string, error)
}

// Service holds the operations shared by the HTTP and MCP transports.
type Service struct {
	Store  Store
	Jobs   Batcher
	Audit  *audit.Logger // optional
	Logger *slog.Logger
}

// AnalyzeRequest is the body of POST /api/v1/analyze.
type AnalyzeRequest struct {
	Content string `json:"content"`
	Seed    string `json:"seed"`
	Locale  string `json:"locale"`
	Title   string `json:"title"`
}

// AnalyzeResponse pairs the analysis with its recommendations.
type AnalyzeResponse struct {
	Analysis        analysis.Result  `json:"analysis"`
	Recommendations recommend.Bundle `json:"recommendations"`
}

// Analyze runs analysis and recommendation synthesis. An empty seed falls
// back to the title.
func (s *Service) Analyze(req AnalyzeRequest) (*AnalyzeResponse, error) {
	if strings.TrimSpace(req.Content) == "" && strings.TrimSpace(req.Title) == "" {
		return nil, ErrEmptyInput
	}
	seed := strings.TrimSpace(req.Seed)
	if seed == "" {
		seed = strings.TrimSpace(req.Title)
	}
	a := analysis.Analyze(req.Content, seed, req.Locale)
	return &AnalyzeResponse{Analysis: a, Recommendations: recommend.Build(a, req.Title)}, nil
}

// SaveRequest is the body of POST /api/v1/results.
type SaveRequest struct {
	SubjectID   string   `json:"subject_id"`
	Seed        string   `json:"seed"`
	Keywords    []string `json:"keywords"`
	Content     string   `json:"content"`
	Title       string   `json:"title"`
	Locale      string   `json:"locale"`
	URL         string   `json:"url"`
	ScoreBefore int      `json:"score_before"`
	ScoreAfter  *int     `json:"score_after"`
}

// SaveResponse is returned by SaveResult.
type SaveResponse struct {
	ID       int64           `json:"id"`
	Analysis analysis.Result `json:"analysis"`
}

// SaveResult analyzes the submitted content and appends a result row.
// score_after defaults to the assignment score.
func (s *Service) SaveResult(ctx context.Context, req SaveRequest) (*SaveResponse, error) {
	resp, err := s.Analyze(AnalyzeRequest{Content: req.Content, Seed: req.Seed, Locale: req.Locale, Title: req.Title})
	if err != nil {
		return nil, err
	}
	seed := strings.TrimSpace(req.Seed)
	if seed == "" {
		seed = strings.TrimSpace(req.Title)
	}
	keywords := req.Keywords
	if len(keywords) == 0 && seed != "" {
		keywords = []string{seed}
	}
	a := resp.Analysis
	asg := jobs.DefaultAssignment(req.URL, a)
	after := asg.Score
	if req.ScoreAfter != nil {
		after = *req.ScoreAfter
	}
	id, err := s.Store.SaveResult(ctx, req.SubjectID, store.ResultInput{
		Seed:        seed,
		Keywords:    keywords,
		Analysis:    a,
		Assignment:  asg,
		ScoreBefore: req.ScoreBefore,
		ScoreAfter:  after,
	})
	if err != nil {
		return nil, err
	}
	if _, err := s.Store.LogEvent(ctx, store.EventResultSaved, store.EventInput{
		SubjectID: strings.TrimSpace(req.SubjectID),
		Details:   map[string]any{"result_id": id, "actor": kit.GetActor(ctx)},
	}); err != nil {
		s.logger().Warn("api: result_saved event", "error", err)
	}
	return &SaveResponse{ID: id, Analysis: a}, nil
}

// Latest returns the newest result for a subject, or store.ErrNotFound.
func (s *Service) Latest(ctx context.Context, subjectID string) (*store.Result, error) {
	r, err := s.Store.LatestBySubject(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, store.ErrNotFound
	}
	return r, nil
}

// Events lists events newest first.
func (s *Service) Events(ctx context.Context, f store.EventFilter) ([]*store.Event, error) {
	events, err := s.Store.ListEvents(ctx, f)
	if err != nil {
		return nil, err
	}
	if events == nil {
		events = []*store.Event{}
	}
	return events, nil
}

// BatchStatus is the state of the batch runner in this process.
type BatchStatus struct {
	State      jobs.State        `json:"state"`
	LastReport *jobs.BatchReport `json:"last_report,omitempty"`
}

// Status reports the runner state when the Batcher exposes it.
func (s *Service) Status() (*BatchStatus, error) {
	r, ok := s.Jobs.(interface {
		State() jobs.State
		LastReport() jobs.BatchReport
	})
	if !ok {
		return nil, fmt.Errorf("api: batch jobs are disabled")
	}
	st := &BatchStatus{State: r.State()}
	if st.State != jobs.Idle {
		rep := r.LastReport()
		st.LastReport = &rep
	}
	return st, nil
}

// TriggerBatch queues an immediate batch run.
func (s *Service) TriggerBatch(ctx context.Context) (string, error) {
	if s.Jobs == nil {
		return "", fmt.Errorf("api: batch jobs are disabled")
	}
	id, err := s.Jobs.Enqueue(ctx, "manual")
	if err != nil {
		return "", err
	}
	s.logger().Info("api: batch triggered", "job_id", id, "actor", kit.GetActor(ctx))
	return id, nil
}

// endpoint wraps e with the audit middleware when auditing is enabled.
func (s *Service) endpoint(transport, action string, e kit.Endpoint) kit.Endpoint {
	mws := []kit.Middleware{s.logCalls(transport, action)}
	if s.Audit != nil {
		mws = append(mws, audit.Middleware(s.Audit, transport, action))
	}
	return kit.Chain(mws...)(e)
}

func (s *Service) logCalls(transport, action string) kit.Middleware {
	return func(next kit.Endpoint) kit.Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			log := s.logger().With("transport", transport, "action", action,
				"actor", kit.GetActor(ctx), "duration_ms", time.Since(start).Milliseconds())
			if err != nil {
				log.Warn("api: call failed", "error", err)
			} else {
				log.Debug("api: call")
			}
			return resp, err
		}
	}
}

func (s *Service) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
