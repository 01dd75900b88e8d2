// Package service provides the import orchestration logic.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/FACorreiaa/statement-import/internal/domain/import/model"
	"github.com/FACorreiaa/statement-import/internal/domain/import/parser"
	"github.com/FACorreiaa/statement-import/pkg/metrics"
)

var (
	ErrParseTimeout    = errors.New("parse timed out")
	ErrRateLimited     = errors.New("too many parse requests")
	ErrPreviewNotFound = errors.New("preview not found or expired")
)

const (
	defaultParseTimeout = 30 * time.Second
	defaultPreviewTTL   = 30 * time.Minute

	tracerName = "github.com/FACorreiaa/statement-import/service"
)

// StatementParser turns one upload into a parse result.
type StatementParser interface {
	Parse(in parser.Input) (*model.ParseResult, error)
}

// Committer persists a parse result for a workspace.
type Committer interface {
	Commit(ctx context.Context, workspaceID uuid.UUID, result *model.ParseResult) (*model.CommitOutcome, error)
}

// Upload is one file handed to the service.
type Upload struct {
	Data         []byte
	FileName     string
	SourceHint   string
	DeclaredType string
}

// Preview is a parse result held until the user commits or discards it.
type Preview struct {
	ID        uuid.UUID
	FileName  string
	Result    *model.ParseResult
	CreatedAt time.Time
	ExpiresAt time.Time
}

// ImportService orchestrates parsing, previewing and committing statements.
type ImportService struct {
	parser    StatementParser
	committer Committer
	logger    *slog.Logger

	limiter *rate.Limiter          // Optional: nil disables rate limiting
	metrics *metrics.ImportMetrics // Optional: nil records nothing
	tracer  trace.Tracer
	timeout time.Duration
	ttl     time.Duration
	now     func() time.Time

	mu       sync.Mutex
	previews map[uuid.UUID]*Preview
}

// NewImportService creates a new import service
func NewImportService(p StatementParser, c Committer, logger *slog.Logger) *ImportService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ImportService{
		parser:    p,
		committer: c,
		logger:    logger,
		tracer:    otel.Tracer(tracerName),
		timeout:   defaultParseTimeout,
		ttl:       defaultPreviewTTL,
		now:       time.Now,
		previews:  make(map[uuid.UUID]*Preview),
	}
}

// WithRateLimiter bounds how often Parse may run.
func (s *ImportService) WithRateLimiter(limiter *rate.Limiter) *ImportService {
	s.limiter = limiter
	return s
}

// WithMetrics adds Prometheus instrumentation to the import service
func (s *ImportService) WithMetrics(m *metrics.ImportMetrics) *ImportService {
	s.metrics = m
	return s
}

func (s *ImportService) WithTracer(tracer trace.Tracer) *ImportService {
	if tracer != nil {
		s.tracer = tracer
	}
	return s
}

func (s *ImportService) WithParseTimeout(timeout time.Duration) *ImportService {
	if timeout > 0 {
		s.timeout = timeout
	}
	return s
}

func (s *ImportService) WithPreviewTTL(ttl time.Duration) *ImportService {
	if ttl > 0 {
		s.ttl = ttl
	}
	return s
}

type parseOutcome struct {
	result *model.ParseResult
	err    error
}

// Parse runs the parser under the configured timeout and caches the result
// as a preview. A parse that outlives the timeout is abandoned and leaves
// nothing behind.
func (s *ImportService) Parse(ctx context.Context, upload Upload) (*Preview, error) {
	ctx, span := s.tracer.Start(ctx, "import.parse", trace.WithAttributes(
		attribute.String("file_name", upload.FileName),
		attribute.Int("bytes", len(upload.Data)),
	))
	defer span.End()

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			s.fail(span, err)
			return nil, fmt.Errorf("%w: %w", ErrRateLimited, err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := s.now()
	done := make(chan parseOutcome, 1)
	go func() {
		result, err := s.parser.Parse(parser.Input{
			Data:         upload.Data,
			SourceHint:   upload.SourceHint,
			DeclaredType: declaredType(upload),
		})
		done <- parseOutcome{result: result, err: err}
	}()

	var out parseOutcome
	select {
	case <-ctx.Done():
		s.logger.Warn("parse abandoned", "file_name", upload.FileName, "error", ctx.Err())
		s.metrics.ObserveParse("", "", "timeout", s.now().Sub(start).Seconds(), 0, 0)
		s.fail(span, ctx.Err())
		return nil, fmt.Errorf("%w: %w", ErrParseTimeout, ctx.Err())
	case out = <-done:
	}

	elapsed := s.now().Sub(start).Seconds()
	if out.err != nil {
		s.logger.Warn("failed to parse statement", "file_name", upload.FileName, "error", out.err)
		s.metrics.ObserveParse("", "", "error", elapsed, 0, 0)
		s.fail(span, out.err)
		return nil, out.err
	}

	res := out.result
	s.metrics.ObserveParse(res.SourceID, res.SourceType.String(), "ok", elapsed, len(res.Drafts), len(res.Warnings))
	span.SetAttributes(
		attribute.String("source_id", res.SourceID),
		attribute.Int("drafts", len(res.Drafts)),
		attribute.Int("warnings", len(res.Warnings)),
	)

	now := s.now()
	preview := &Preview{
		ID:        uuid.New(),
		FileName:  upload.FileName,
		Result:    res,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}

	s.mu.Lock()
	s.previews[preview.ID] = preview
	cached := len(s.previews)
	s.mu.Unlock()
	s.metrics.SetCachedPreviews(cached)

	s.logger.Info("statement preview ready",
		slog.String("preview_id", preview.ID.String()),
		slog.String("source_id", res.SourceID),
		slog.Int("drafts", len(res.Drafts)),
		slog.Int("warnings", len(res.Warnings)),
	)
	return preview, nil
}

// Preview returns a cached, unexpired preview.
func (s *ImportService) Preview(id uuid.UUID) (*Preview, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.previews[id]
	if !ok || !s.now().Before(p.ExpiresAt) {
		return nil, false
	}
	return p, true
}

// Commit persists a parse result for the workspace.
func (s *ImportService) Commit(ctx context.Context, workspaceID uuid.UUID, result *model.ParseResult) (*model.CommitOutcome, error) {
	ctx, span := s.tracer.Start(ctx, "import.commit", trace.WithAttributes(
		attribute.String("workspace_id", workspaceID.String()),
	))
	defer span.End()

	outcome, err := s.committer.Commit(ctx, workspaceID, result)
	if err != nil {
		var ce *model.CommitError
		if errors.As(err, &ce) {
			s.metrics.ObserveCommit("error", ce.Inserted, 0)
		} else {
			s.metrics.ObserveCommit("error", 0, 0)
		}
		s.fail(span, err)
		return nil, err
	}

	s.metrics.ObserveCommit("ok", outcome.InsertedCount, outcome.SkippedDuplicateCount)
	span.SetAttributes(
		attribute.Int("inserted", outcome.InsertedCount),
		attribute.Int("skipped", outcome.SkippedDuplicateCount),
	)
	return outcome, nil
}

// CommitPreview commits a cached preview and drops it on success. A failed
// commit keeps the preview so the caller can retry.
func (s *ImportService) CommitPreview(ctx context.Context, workspaceID, previewID uuid.UUID) (*model.CommitOutcome, error) {
	preview, ok := s.Preview(previewID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPreviewNotFound, previewID)
	}

	outcome, err := s.Commit(ctx, workspaceID, preview.Result)
	if err != nil {
		return nil, err
	}
	s.Discard(previewID)
	return outcome, nil
}

// Discard drops a preview without committing it.
func (s *ImportService) Discard(previewID uuid.UUID) bool {
	s.mu.Lock()
	_, ok := s.previews[previewID]
	delete(s.previews, previewID)
	cached := len(s.previews)
	s.mu.Unlock()

	s.metrics.SetCachedPreviews(cached)
	return ok
}

// EvictExpired drops every preview whose TTL has passed at now.
func (s *ImportService) EvictExpired(now time.Time) int {
	s.mu.Lock()
	evicted := 0
	for id, p := range s.previews {
		if !now.Before(p.ExpiresAt) {
			delete(s.previews, id)
			evicted++
		}
	}
	cached := len(s.previews)
	s.mu.Unlock()

	s.metrics.SetCachedPreviews(cached)
	s.metrics.AddEvicted(evicted)
	if evicted > 0 {
		s.logger.Info("evicted expired previews", slog.Int("evicted", evicted), slog.Int("remaining", cached))
	}
	return evicted
}

func (s *ImportService) fail(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// declaredType falls back to the file name when its extension names a
// known kind, and leaves unknown names to content sniffing.
func declaredType(upload Upload) string {
	if upload.DeclaredType != "" {
		return upload.DeclaredType
	}
	if _, err := model.ParseSourceKind(strings.ToLower(filepath.Ext(upload.FileName))); err == nil {
		return upload.FileName
	}
	return ""
}
