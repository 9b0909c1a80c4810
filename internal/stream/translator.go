// Package stream turns one chat request into an ordered sequence of stream
// frames: content deltas followed by exactly one terminal frame, whether the
// generation succeeds or fails.
package stream

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/microsoft/secure-azureai-agent/internal/generator"
	"github.com/microsoft/secure-azureai-agent/internal/observability"
	"github.com/microsoft/secure-azureai-agent/internal/telemetry"
	"github.com/microsoft/secure-azureai-agent/pkg/models"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Defaults applied by New when the corresponding option is unset.
const (
	DefaultGenerationTimeout = 60 * time.Second
	DefaultTraceLimit        = 5
)

// errClientGone marks a failed frame write.
var errClientGone = errors.New("client disconnected")

// SessionStore is the session state the translator needs.
type SessionStore interface {
	Lock(ctx context.Context, id string) (func(), error)
	GetOrCreate(id string) (string, *models.Thread)
	Put(id string, th *models.Thread)
}

// Options configures a Translator.
type Options struct {
	GenerationTimeout time.Duration
	TraceLimit        int
	Locale            string
	// SensitiveDiagnostics appends raw upstream errors to failure frames.
	SensitiveDiagnostics bool
	// ContentRecording includes message content in thread analysis output.
	ContentRecording bool
	Metrics          *observability.Metrics
}

// Translator runs generations and frames their output.
type Translator struct {
	store    SessionStore
	selector *generator.Selector
	opts     Options
}

// New creates a Translator.
func New(store SessionStore, selector *generator.Selector, opts Options) *Translator {
	if opts.GenerationTimeout <= 0 {
		opts.GenerationTimeout = DefaultGenerationTimeout
	}
	if opts.TraceLimit <= 0 {
		opts.TraceLimit = DefaultTraceLimit
	}
	opts.Locale = normalizeLocale(opts.Locale)
	return &Translator{store: store, selector: selector, opts: opts}
}

// Stream answers req, writing frames to w. Generation failures become a
// single terminal frame and are not returned. The returned error is non-nil
// only when the client could not be written to.
//
// Only successful turns are persisted: a failed turn leaves the stored
// thread exactly as it was.
func (t *Translator) Stream(ctx context.Context, req models.ChatRequest, w FrameWriter) error {
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	mode := req.Mode
	if mode == "" {
		mode = t.selector.DefaultMode()
	}

	ctx, span := telemetry.Tracer().Start(ctx, "process_message_stream", trace.WithAttributes(
		attribute.String("session_id", sessionID),
		attribute.Int("message_length", len(req.Message)),
		attribute.String("mode", string(mode)),
	))
	defer span.End()

	finish := t.opts.Metrics.StreamStarted(string(mode))
	logger := log.With().Str("session_id", sessionID).Str("mode", string(mode)).Logger()

	unlock, err := t.store.Lock(ctx, sessionID)
	if err != nil {
		logger.Info().Err(err).Msg("Client disconnected while waiting for session")
		finish("canceled")
		return nil
	}
	defer unlock()

	_, prior := t.store.GetOrCreate(sessionID)

	gen, err := t.selector.Select(mode)
	if err != nil {
		return t.fail(span, logger, finish, w, sessionID, mode, err)
	}

	genCtx, cancel := context.WithTimeout(ctx, t.opts.GenerationTimeout)
	defer cancel()

	start := time.Now()
	first := true
	clientGone := false
	emit := func(delta string) error {
		if first {
			first = false
			t.opts.Metrics.FirstToken(string(mode), time.Since(start))
		}
		if err := w.WriteFrame(models.StreamFrame{Content: delta, SessionID: sessionID, Mode: mode}); err != nil {
			clientGone = true
			return errClientGone
		}
		t.opts.Metrics.Frame(string(mode))
		return nil
	}

	th, err := gen.Generate(genCtx, generator.Request{
		SessionID: sessionID,
		Message:   req.Message,
		Thread:    prior,
		Mode:      mode,
		Trace:     req.EnableTrace,
	}, emit)

	if err != nil {
		if clientGone || ctx.Err() != nil {
			logger.Info().Msg("Client disconnected during generation")
			span.SetAttributes(attribute.Bool("client_disconnected", true))
			finish("canceled")
			return nil
		}
		return t.fail(span, logger, finish, w, sessionID, mode, err)
	}

	t.store.Put(sessionID, th)

	done := models.StreamFrame{SessionID: sessionID, IsDone: true, Mode: mode}
	if req.EnableTrace {
		done.Trace = ExtractTrace(th, prior.Len(), t.opts.TraceLimit)
	}
	if err := w.WriteFrame(done); err != nil {
		logger.Info().Msg("Client disconnected before completion frame")
		finish("canceled")
		return err
	}
	t.opts.Metrics.Frame(string(mode))
	finish("success")

	LogThread(ctx, sessionID, th, t.opts.ContentRecording)
	return nil
}

// fail writes the single terminal frame for a classified failure.
func (t *Translator) fail(span trace.Span, logger zerolog.Logger, finish func(string), w FrameWriter,
	sessionID string, mode models.Mode, err error) error {
	kind := generator.Classify(err)

	span.RecordError(err)
	span.SetStatus(codes.Error, string(kind))
	logger.Error().Err(err).Str("error_kind", string(kind)).Msg("Chat stream failed")
	t.opts.Metrics.StreamError(string(mode), string(kind))
	finish("error")

	frame := models.StreamFrame{
		Content:   Diagnostic(t.opts.Locale, kind, err, t.opts.SensitiveDiagnostics),
		SessionID: sessionID,
		IsDone:    true,
		Mode:      mode,
	}
	if werr := w.WriteFrame(frame); werr != nil {
		logger.Info().Msg("Client disconnected before failure frame")
		return werr
	}
	t.opts.Metrics.Frame(string(mode))
	return nil
}
