package orchestrator

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/GriffinCanCode/DocRefine/backend/internal/domain/suggestion"
	"github.com/GriffinCanCode/DocRefine/backend/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/DocRefine/backend/internal/providers/completion"
	"github.com/GriffinCanCode/DocRefine/backend/internal/shared/id"
)

// ShadowDependency keeps shadow failures off the primary completion breaker
const ShadowDependency = completion.Dependency + "-shadow"

// CollectorDependency guards the shadow record sink
const CollectorDependency = "shadow-collector"

// Shadow outcomes
const (
	shadowOK      = "ok"
	shadowFailed  = "failed"
	shadowDropped = "dropped"
	shadowPanic   = "panic"
)

// ShadowRecord compares a primary answer with its shadow counterpart
type ShadowRecord struct {
	ID                string    `json:"id"`
	Mode              Mode      `json:"mode"`
	Fingerprint       string    `json:"fingerprint"`
	PrimaryStrategy   string    `json:"primary_strategy"`
	PrimaryError      string    `json:"primary_error,omitempty"`
	PrimaryCount      int       `json:"primary_count"`
	PrimaryMs         int64     `json:"primary_ms"`
	ShadowTier        string    `json:"shadow_tier"`
	ShadowCount       int       `json:"shadow_count"`
	ShadowMs          int64     `json:"shadow_ms"`
	ShadowError       string    `json:"shadow_error,omitempty"`
	Truncated         bool      `json:"truncated,omitempty"`
	CategoryOverlap   float64   `json:"category_overlap"`
	VocabularyJaccard float64   `json:"vocabulary_jaccard"`
	Timestamp         time.Time `json:"timestamp"`
}

// ShadowSink receives comparison records
type ShadowSink interface {
	Record(ctx context.Context, rec ShadowRecord) error
}

// ShadowConfig controls sampling and isolation. Content longer than
// MaxContentBytes is cut to its first chunk before it is mirrored.
type ShadowConfig struct {
	SampleRate      float64
	Concurrency     int
	Timeout         time.Duration
	MaxContentBytes int
}

// Shadow mirrors a deterministic sample of requests to the other model
// tier. Shadow runs are detached from the request, bounded by a semaphore,
// and never influence the primary response.
type Shadow struct {
	cfg      ShadowConfig
	engine   *suggestion.Engine
	breakers *resilience.Registry
	sink     ShadowSink
	observer Observer
	logger   *zap.Logger

	sem chan struct{}
	wg  sync.WaitGroup
}

// NewShadow creates a sampler. observer may be nil.
func NewShadow(cfg ShadowConfig, engine *suggestion.Engine, breakers *resilience.Registry, sink ShadowSink, observer Observer, logger *zap.Logger) *Shadow {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxContentBytes <= 0 {
		cfg.MaxContentBytes = DefaultConfig().AsyncThresholdBytes
	}
	if observer == nil {
		observer = noopObserver{}
	}
	return &Shadow{
		cfg:      cfg,
		engine:   engine,
		breakers: breakers,
		sink:     sink,
		observer: observer,
		logger:   logger.Named("shadow"),
		sem:      make(chan struct{}, cfg.Concurrency),
	}
}

// Sampled decides from the content fingerprint alone, so the same content
// is always either mirrored or not.
func (s *Shadow) Sampled(fingerprint string) bool {
	switch {
	case s.cfg.SampleRate <= 0:
		return false
	case s.cfg.SampleRate >= 1:
		return true
	}
	if len(fingerprint) < 8 {
		return false
	}
	raw, err := hex.DecodeString(fingerprint[:8])
	if err != nil {
		return false
	}
	bucket := float64(binary.BigEndian.Uint32(raw)) / float64(math.MaxUint32)
	return bucket < s.cfg.SampleRate
}

// Mirror starts a shadow run for a routed request. primaryErr is set when
// the primary path failed, in which case primary is empty. It returns at
// once; when every slot is busy the run is dropped.
func (s *Shadow) Mirror(mode Mode, req Request, fingerprint string, primary Result, primaryErr error, primaryDur time.Duration) {
	select {
	case s.sem <- struct{}{}:
	default:
		s.observer.RecordShadow(shadowDropped)
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() { <-s.sem }()
		defer func() {
			if rec := recover(); rec != nil {
				s.observer.RecordShadow(shadowPanic)
				s.logger.Error("shadow run panicked", zap.Any("panic", rec))
			}
		}()

		s.run(mode, req, fingerprint, primary, primaryErr, primaryDur)
	}()
}

func (s *Shadow) run(mode Mode, req Request, fingerprint string, primary Result, primaryErr error, primaryDur time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
	defer cancel()

	tier := mode.policy().fallbackTier()
	params := suggestion.Params{Mode: mode.String(), Tone: req.Options.Tone, Audience: req.Options.Audience}

	content, truncated := req.Content, false
	if len(content) > s.cfg.MaxContentBytes {
		if chunks := suggestion.Chunk(content, s.cfg.MaxContentBytes); len(chunks) > 0 {
			content, truncated = chunks[0], true
		}
	}

	start := time.Now()
	out, err := resilience.Guard(ctx, s.breakers, ShadowDependency, func(ctx context.Context) ([]suggestion.Suggestion, error) {
		return s.engine.Suggest(ctx, tier, content, params, nil)
	})

	rec := ShadowRecord{
		ID:              id.NewShadowID().String(),
		Mode:            mode,
		Fingerprint:     fingerprint,
		PrimaryStrategy: primary.Strategy,
		PrimaryCount:    len(primary.Suggestions),
		PrimaryMs:       primaryDur.Milliseconds(),
		ShadowTier:      string(tier),
		ShadowCount:     len(out),
		ShadowMs:        time.Since(start).Milliseconds(),
		Truncated:       truncated,
		Timestamp:       time.Now().UTC(),
	}
	if primaryErr != nil {
		rec.PrimaryError = primaryErr.Error()
	}
	outcome := shadowOK
	if err != nil {
		rec.ShadowError = err.Error()
		outcome = shadowFailed
	} else if primaryErr == nil {
		rec.CategoryOverlap = categoryOverlap(primary.Suggestions, out)
		rec.VocabularyJaccard = vocabularyJaccard(primary.Suggestions, out)
	}

	_, err = resilience.Guard(ctx, s.breakers, CollectorDependency, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.sink.Record(ctx, rec)
	})
	if err != nil {
		s.logger.Warn("shadow sink failed", zap.String("shadow_id", rec.ID), zap.Error(err))
		outcome = shadowFailed
	}
	s.observer.RecordShadow(outcome)
}

// Wait blocks until in-flight shadow runs finish or ctx is done
func (s *Shadow) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func categoryOverlap(a, b []suggestion.Suggestion) float64 {
	return jaccard(collect(a, func(s suggestion.Suggestion) []string { return []string{s.Category} }),
		collect(b, func(s suggestion.Suggestion) []string { return []string{s.Category} }))
}

func vocabularyJaccard(a, b []suggestion.Suggestion) float64 {
	words := func(s suggestion.Suggestion) []string { return strings.Fields(strings.ToLower(s.Text)) }
	return jaccard(collect(a, words), collect(b, words))
}

func collect(list []suggestion.Suggestion, fn func(suggestion.Suggestion) []string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, s := range list {
		for _, w := range fn(s) {
			set[w] = struct{}{}
		}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	inter := 0
	for k := range a {
		if _, ok := b[k]; ok {
			inter++
		}
	}
	return float64(inter) / float64(len(a)+len(b)-inter)
}

// LogSink writes shadow records to the log
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a log sink
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger.Named("shadow")}
}

// Record logs rec
func (l *LogSink) Record(_ context.Context, rec ShadowRecord) error {
	l.logger.Info("shadow comparison",
		zap.String("shadow_id", rec.ID),
		zap.String("mode", rec.Mode.String()),
		zap.String("primary_strategy", rec.PrimaryStrategy),
		zap.String("primary_error", rec.PrimaryError),
		zap.String("shadow_tier", rec.ShadowTier),
		zap.Int("primary_count", rec.PrimaryCount),
		zap.Int("shadow_count", rec.ShadowCount),
		zap.Float64("category_overlap", rec.CategoryOverlap),
		zap.Float64("vocabulary_jaccard", rec.VocabularyJaccard),
		zap.String("shadow_error", rec.ShadowError),
		zap.Bool("truncated", rec.Truncated),
	)
	return nil
}

// HTTPSinkConfig configures the collector client
type HTTPSinkConfig struct {
	URL          string
	Timeout      time.Duration
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	RPS          float64
}

// HTTPSink posts shadow records to a collector service
type HTTPSink struct {
	client  *resty.Client
	limiter *rate.Limiter
	url     string
}

// NewHTTPSink creates a collector client. Transport-level retries come
// from go-retryablehttp; resty handles JSON and timeouts.
func NewHTTPSink(cfg HTTPSinkConfig) *HTTPSink {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RetryWaitMin <= 0 {
		cfg.RetryWaitMin = 200 * time.Millisecond
	}
	if cfg.RetryWaitMax <= 0 {
		cfg.RetryWaitMax = 2 * time.Second
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = cfg.RetryMax
	retryClient.RetryWaitMin = cfg.RetryWaitMin
	retryClient.RetryWaitMax = cfg.RetryWaitMax
	retryClient.Logger = nil

	client := resty.NewWithClient(retryClient.StandardClient()).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "docrefine-shadow/1.0").
		SetJSONMarshaler(sonic.Marshal).
		SetJSONUnmarshaler(sonic.Unmarshal)

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RPS), int(math.Max(1, cfg.RPS)))
	}

	return &HTTPSink{client: client, limiter: limiter, url: cfg.URL}
}

// Record posts rec to the collector
func (h *HTTPSink) Record(ctx context.Context, rec ShadowRecord) error {
	if err := h.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("shadow sink rate limit: %w", err)
	}

	resp, err := h.client.R().SetContext(ctx).SetBody(rec).Post(h.url)
	if err != nil {
		return fmt.Errorf("post shadow record: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("shadow collector returned %s", resp.Status())
	}
	return nil
}
