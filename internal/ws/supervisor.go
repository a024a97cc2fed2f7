package ws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/hubenschmidt/live-translator/internal/metrics"
)

// Session kinds, used as metric labels and log fields.
const (
	KindTranscription = "transcription"
	KindTranslation   = "translation"
)

var errPanic = errors.New("session panic")

// SessionFunc runs one session over an upgraded connection. Returning nil or an
// ErrClosed-wrapped error ends the session quietly; anything else is a failure.
type SessionFunc func(ctx context.Context, c *Conn) error

// SupervisorConfig bounds the sessions of one kind.
type SupervisorConfig struct {
	Kind            string
	MaxConcurrent   int
	MaxMessageBytes int64
	WriteTimeout    time.Duration
	CheckOrigin     func(r *http.Request) bool
	Logger          *slog.Logger
}

// Supervisor admits, upgrades and contains websocket sessions of one kind.
// No session failure escapes it.
type Supervisor struct {
	cfg      SupervisorConfig
	run      SessionFunc
	sem      chan struct{}
	upgrader websocket.Upgrader
	log      *slog.Logger
}

// NewSupervisor creates a handler that runs fn for every admitted connection.
func NewSupervisor(cfg SupervisorConfig, fn SessionFunc) *Supervisor {
	maxConc := cfg.MaxConcurrent
	if maxConc <= 0 {
		maxConc = 100
	}
	checkOrigin := cfg.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(r *http.Request) bool { return true }
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Supervisor{
		cfg: cfg,
		run: fn,
		sem: make(chan struct{}, maxConc),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16384,
			WriteBufferSize: 16384,
			CheckOrigin:     checkOrigin,
		},
		log: log.With("kind", cfg.Kind),
	}
}

// ServeHTTP upgrades the connection and runs the session.
// Returns 503 if at max concurrent session capacity.
func (s *Supervisor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	select {
	case s.sem <- struct{}{}:
		defer func() { <-s.sem }()
	default:
		metrics.SessionsRejected.WithLabelValues(s.cfg.Kind).Inc()
		http.Error(w, "at capacity", http.StatusServiceUnavailable)
		return
	}

	wsConn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("websocket upgrade failed", "error", err)
		return
	}
	defer wsConn.Close()

	metrics.SessionsActive.WithLabelValues(s.cfg.Kind).Inc()
	metrics.SessionsTotal.WithLabelValues(s.cfg.Kind).Inc()
	defer metrics.SessionsActive.WithLabelValues(s.cfg.Kind).Dec()

	s.serve(wsConn, r.RemoteAddr)
}

func (s *Supervisor) serve(wsConn *websocket.Conn, remote string) {
	sessionID := uuid.NewString()
	log := s.log.With("session_id", sessionID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn := newConn(wsConn, cancel, s.cfg.MaxMessageBytes, s.cfg.WriteTimeout, log)
	go conn.pump()
	defer conn.stop()

	log.Info("session started", "remote", remote)
	start := time.Now()

	err := s.runContained(ctx, sessionID, conn)
	if err == nil || errors.Is(err, ErrClosed) || conn.gone() {
		log.Info("session ended", "duration_ms", time.Since(start).Milliseconds())
		return
	}

	metrics.SessionsFailed.WithLabelValues(s.cfg.Kind).Inc()
	log.Error("session failed", "error", err, "duration_ms", time.Since(start).Milliseconds())
	if !errors.Is(err, errPanic) {
		s.report(sessionID, err)
	}

	if werr := conn.sendError(err.Error()); werr != nil {
		log.Debug("error frame not delivered", "error", werr)
	}
	code, reason := websocket.CloseInternalServerErr, "internal error"
	if errors.Is(err, ErrProtocol) {
		code, reason = websocket.ClosePolicyViolation, "protocol violation"
	}
	conn.writeClose(code, reason)
}

// runContained converts a panic in the session into an error.
func (s *Supervisor) runContained(ctx context.Context, sessionID string, conn *Conn) (err error) {
	defer func() {
		if r := recover(); r != nil {
			hub := sentry.CurrentHub().Clone()
			hub.Scope().SetTag("kind", s.cfg.Kind)
			hub.Scope().SetTag("session_id", sessionID)
			hub.RecoverWithContext(ctx, r)
			err = fmt.Errorf("%w: %v", errPanic, r)
		}
	}()
	return s.run(ctx, conn)
}

func (s *Supervisor) report(sessionID string, err error) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("kind", s.cfg.Kind)
		scope.SetTag("session_id", sessionID)
		sentry.CaptureException(err)
	})
}
