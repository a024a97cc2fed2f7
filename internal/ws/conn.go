package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hubenschmidt/live-translator/internal/metrics"
)

var (
	// ErrProtocol marks a client frame that violates the session protocol.
	ErrProtocol = errors.New("protocol violation")

	// ErrClosed is returned once the peer has gone away.
	ErrClosed = errors.New("connection closed")

	errFrameTooLarge = errors.New("frame exceeds size limit")
)

type frame struct {
	messageType int
	data        []byte
}

// Conn wraps a websocket connection for a single session. A background reader
// pumps frames to the session loop and cancels the session context when the
// peer disconnects, so in-flight collaborator calls abort.
type Conn struct {
	ws           *websocket.Conn
	maxBytes     int64
	writeTimeout time.Duration
	log          *slog.Logger

	frames chan frame
	done   chan struct{}
	cancel context.CancelFunc

	mu      sync.Mutex
	readErr error
	wmu     sync.Mutex
}

func newConn(ws *websocket.Conn, cancel context.CancelFunc, maxBytes int64, writeTimeout time.Duration, log *slog.Logger) *Conn {
	return &Conn{
		ws:           ws,
		maxBytes:     maxBytes,
		writeTimeout: writeTimeout,
		log:          log,
		frames:       make(chan frame),
		done:         make(chan struct{}),
		cancel:       cancel,
	}
}

// pump reads until the socket fails or the session ends. An oversize frame
// stops the reader without canceling the session, so the session can still
// report the violation before the connection closes.
func (c *Conn) pump() {
	defer close(c.frames)
	for {
		msgType, data, err := c.read()
		if err != nil {
			c.mu.Lock()
			c.readErr = err
			c.mu.Unlock()
			if !errors.Is(err, errFrameTooLarge) {
				c.cancel()
			}
			return
		}
		select {
		case c.frames <- frame{messageType: msgType, data: data}:
		case <-c.done:
			return
		}
	}
}

// read returns the next complete message, bounded by maxBytes when set.
func (c *Conn) read() (int, []byte, error) {
	msgType, r, err := c.ws.NextReader()
	if err != nil {
		return 0, nil, err
	}
	if c.maxBytes <= 0 {
		data, err := io.ReadAll(r)
		return msgType, data, err
	}
	data, err := io.ReadAll(io.LimitReader(r, c.maxBytes+1))
	if err != nil {
		return 0, nil, err
	}
	if int64(len(data)) > c.maxBytes {
		return 0, nil, fmt.Errorf("%w: more than %d bytes", errFrameTooLarge, c.maxBytes)
	}
	return msgType, data, nil
}

// stop releases the reader once the session returns.
func (c *Conn) stop() { close(c.done) }

// next blocks for the next client frame.
func (c *Conn) next(ctx context.Context) (frame, error) {
	select {
	case f, ok := <-c.frames:
		if ok {
			return f, nil
		}
		return frame{}, c.readFailure()
	case <-ctx.Done():
		if err := c.readFailure(); err != nil {
			return frame{}, err
		}
		return frame{}, ctx.Err()
	}
}

func (c *Conn) readFailure() error {
	c.mu.Lock()
	err := c.readErr
	c.mu.Unlock()
	switch {
	case err == nil:
		return nil
	case errors.Is(err, errFrameTooLarge):
		return fmt.Errorf("%w: %v", ErrProtocol, err)
	default:
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
}

// gone reports whether the peer disconnected.
func (c *Conn) gone() bool {
	return errors.Is(c.readFailure(), ErrClosed)
}

// sendMessage writes {"message": text}.
func (c *Conn) sendMessage(kind, text string) error {
	if err := c.writeJSON(resultMessage{Message: text}); err != nil {
		return err
	}
	metrics.MessagesSent.WithLabelValues(kind).Inc()
	return nil
}

// sendError writes {"error": text}.
func (c *Conn) sendError(text string) error {
	return c.writeJSON(errorMessage{Error: text})
}

func (c *Conn) writeJSON(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()
	if c.writeTimeout > 0 {
		c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	if err = c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("%w: write: %v", ErrClosed, err)
	}
	return nil
}

func (c *Conn) writeClose(code int, reason string) {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	deadline := time.Now().Add(time.Second)
	if err := c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline); err != nil {
		c.log.Debug("write close frame", "error", err)
	}
}

type resultMessage struct {
	Message string `json:"message"`
}

type errorMessage struct {
	Error string `json:"error"`
}
