package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"

	"github.com/knowledge-engine/siteqa/internal/answer"
	"github.com/knowledge-engine/siteqa/internal/cache"
	"github.com/knowledge-engine/siteqa/internal/config"
	"github.com/knowledge-engine/siteqa/internal/fetcher"
	"github.com/knowledge-engine/siteqa/internal/observability"
	"github.com/knowledge-engine/siteqa/internal/politeness"
	"github.com/knowledge-engine/siteqa/internal/search"
)

// Query outcomes, used as metric labels and in logs
const (
	OutcomeAnswered   = "answered"
	OutcomeCached     = "cached"
	OutcomeShort      = "short_query"
	OutcomeNoMatches  = "no_matches"
	OutcomeNoRelevant = "no_relevant"
	OutcomeError      = "error"
)

// CandidateSource supplies the documents a question is answered from.
type CandidateSource interface {
	FetchCandidates(ctx context.Context, query string) ([]search.Document, error)
}

// Engine wires the question answering pipeline together
type Engine struct {
	Config     *config.Config
	Logger     *logrus.Entry
	Source     CandidateSource
	Politeness *politeness.PolitenessManager
	Ranker     *search.Ranker
	Composer   *answer.Composer
	Cache      *cache.TTLCache[answer.Response]
	Metrics    *observability.Metrics

	inflight singleflight.Group

	// State
	isRunning bool
	mu        sync.RWMutex

	// Stats
	stats EngineStats
}

type EngineStats struct {
	Queries   int64     `json:"queries"`
	CacheHits int64     `json:"cache_hits"`
	Failures  int64     `json:"failures"`
	LastError string    `json:"last_error,omitempty"`
	StartTime time.Time `json:"start_time"`
}

// NewEngine builds the production pipeline: a politeness-gated WordPress
// client feeding the ranker, composer and response cache.
func NewEngine(cfg *config.Config, logger *logrus.Entry, metrics *observability.Metrics) *Engine {
	pm := politeness.NewPolitenessManager(cfg.Politeness, cfg.Source.UserAgent, nil,
		logger.WithField("component", "politeness"))
	client := fetcher.NewClient(cfg.Source, pm, metrics, logger.WithField("component", "fetcher"))

	e := New(cfg, logger, client, metrics)
	e.Politeness = pm
	return e
}

// New builds an engine around an arbitrary candidate source.
func New(cfg *config.Config, logger *logrus.Entry, source CandidateSource, metrics *observability.Metrics) *Engine {
	if logger == nil {
		logger = logrus.WithField("component", "engine")
	}
	return &Engine{
		Config:   cfg,
		Logger:   logger,
		Source:   source,
		Ranker:   search.NewRanker(cfg.Ranking.MinSimilarity, logger.WithField("component", "ranker")),
		Composer: answer.NewComposer(cfg.Ranking.DateLayout),
		Cache:    cache.New[answer.Response](cfg.Cache.TTL),
		Metrics:  metrics,
		stats: EngineStats{
			StartTime: time.Now(),
		},
	}
}

// Start launches background maintenance of the outbound gate, if any.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.isRunning {
		return fmt.Errorf("engine is already running")
	}
	if e.Politeness != nil {
		if err := e.Politeness.Start(); err != nil {
			return err
		}
	}
	e.isRunning = true
	return nil
}

func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.isRunning {
		return
	}
	if e.Politeness != nil {
		if err := e.Politeness.Stop(); err != nil {
			e.Logger.WithError(err).Warn("Failed to stop politeness manager")
		}
	}
	e.isRunning = false
}

func (e *Engine) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.isRunning
}

// GetStats returns a snapshot of the query statistics
func (e *Engine) GetStats() EngineStats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.stats
}

// ProcessQuery answers a question. It never fails: every error is turned into
// one of the fixed replies. Successful answers are cached under the question
// exactly as given.
func (e *Engine) ProcessQuery(ctx context.Context, question string) answer.Response {
	start := time.Now()
	ctx, span := observability.StartSpan(ctx, "engine.ProcessQuery",
		attribute.Int("query.length", len(question)),
	)

	resp, outcome := e.process(ctx, question)

	span.SetAttributes(
		attribute.String("outcome", outcome),
		attribute.Int("sources", len(resp.Sources)),
	)
	observability.EndSpan(span, nil)

	e.Metrics.ObserveQuery(outcome, time.Since(start))
	e.mu.Lock()
	e.stats.Queries++
	if outcome == OutcomeCached {
		e.stats.CacheHits++
	}
	e.mu.Unlock()

	e.Logger.WithFields(logrus.Fields{
		"outcome":  outcome,
		"sources":  len(resp.Sources),
		"duration": time.Since(start),
	}).Info("Processed question")
	return resp
}

func (e *Engine) process(ctx context.Context, question string) (answer.Response, string) {
	if cached, ok := e.Cache.Get(question); ok {
		e.Metrics.IncCacheHit()
		return cached, OutcomeCached
	}

	if utf8.RuneCountInString(strings.TrimSpace(question)) < e.minQueryRunes() {
		return answer.Message(answer.ShortQueryMessage), OutcomeShort
	}

	type result struct {
		resp    answer.Response
		outcome string
	}
	// Concurrent callers asking the same question share one pipeline run, which
	// ignores the starting caller's cancellation and is bounded by sharedRunTimeout.
	v, _, _ := e.inflight.Do(question, func() (interface{}, error) {
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.sharedRunTimeout())
		defer cancel()
		resp, outcome := e.answer(runCtx, question)
		return result{resp: resp, outcome: outcome}, nil
	})
	r := v.(result)
	return r.resp, r.outcome
}

// answer runs fetch, rank and compose. Panics are reported as a technical error.
func (e *Engine) answer(ctx context.Context, question string) (resp answer.Response, outcome string) {
	defer func() {
		if rec := recover(); rec != nil {
			e.recordFailure(fmt.Errorf("panic: %v", rec))
			resp, outcome = answer.Message(answer.TechnicalErrorMessage), OutcomeError
		}
	}()

	docs, err := e.Source.FetchCandidates(ctx, question)
	if err != nil {
		e.recordFailure(err)
		return answer.Message(answer.TechnicalErrorMessage), OutcomeError
	}
	e.Metrics.ObserveCandidates(len(docs))
	if len(docs) == 0 {
		return answer.Message(answer.NoMatchesMessage), OutcomeNoMatches
	}

	ranked := e.Ranker.Rank(question, docs, e.Config.Ranking.TopK)
	resp = e.Composer.Compose(question, ranked)
	e.Cache.Put(question, resp)

	if len(ranked) == 0 {
		return resp, OutcomeNoRelevant
	}
	return resp, OutcomeAnswered
}

func (e *Engine) recordFailure(err error) {
	e.Logger.WithError(err).Error("Failed to answer question")
	e.mu.Lock()
	e.stats.Failures++
	e.stats.LastError = err.Error()
	e.mu.Unlock()
}

func (e *Engine) minQueryRunes() int {
	if e.Config.Ranking.MinQueryRunes > 0 {
		return e.Config.Ranking.MinQueryRunes
	}
	return 3
}

// sharedRunTimeout covers a primary request plus one relay attempt
func (e *Engine) sharedRunTimeout() time.Duration {
	if e.Config.Source.Timeout > 0 {
		return 2 * e.Config.Source.Timeout
	}
	return 30 * time.Second
}
