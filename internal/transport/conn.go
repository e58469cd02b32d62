package transport

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"codeberg.org/mutker/ad2ctl/internal/errors"
	"codeberg.org/mutker/ad2ctl/internal/logger"
	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	closeGracePeriod        = time.Second
)

// Config describes how to reach the control peer.
type Config struct {
	URL          string
	Attempts     int
	Interval     time.Duration
	WriteTimeout time.Duration
}

// Conn is the command channel to the control peer. Reads must come from a
// single goroutine; writes may come from any goroutine.
type Conn struct {
	ws           *websocket.Conn
	writeMu      sync.Mutex
	writeTimeout time.Duration
	closeOnce    sync.Once
	closeErr     error
}

// Dial connects to the peer, retrying the initial handshake up to
// cfg.Attempts times. Once established the connection is never re-dialled.
func Dial(ctx context.Context, cfg Config) (*Conn, error) {
	errFactory := errors.New()

	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = defaultHandshakeTimeout

	attempts := cfg.Attempts
	if attempts < 1 {
		attempts = 1
	}

	backOff := backoff.NewExponentialBackOff()
	if cfg.Interval > 0 {
		backOff.InitialInterval = cfg.Interval
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backOff, uint64(attempts-1)), ctx)

	var ws *websocket.Conn
	err := backoff.Retry(func() error {
		conn, resp, err := dialer.DialContext(ctx, cfg.URL, nil)
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		if err != nil {
			logger.Warn().Err(err).Str("url", cfg.URL).Msg("Peer dial failed")
			return err
		}
		ws = conn
		return nil
	}, policy)
	if err != nil {
		return nil, errFactory.Wrap(errors.ErrChannel, err)
	}

	logger.Info().Str("url", cfg.URL).Msg("Connected to control peer")

	return NewConn(ws, cfg.WriteTimeout), nil
}

// NewConn wraps an established websocket connection.
func NewConn(ws *websocket.Conn, writeTimeout time.Duration) *Conn {
	return &Conn{ws: ws, writeTimeout: writeTimeout}
}

// ReadCommand blocks for the next inbound message. Transport failures are
// returned as ErrChannel; undecodable messages as ErrInvalidCommand, after
// which reading may continue.
func (c *Conn) ReadCommand() (Command, error) {
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return Command{}, errors.New().Wrap(errors.ErrChannel, err)
	}

	return ParseCommand(data)
}

// Reply sends a plain text status reply.
func (c *Conn) Reply(text string) error {
	return c.write(websocket.TextMessage, []byte(text))
}

// SendTelemetry sends one telemetry message as JSON text.
func (c *Conn) SendTelemetry(t Telemetry) error {
	data, err := json.Marshal(t)
	if err != nil {
		return errors.New().Wrap(errors.ErrChannel, err)
	}

	return c.write(websocket.TextMessage, data)
}

func (c *Conn) write(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return errors.New().Wrap(errors.ErrChannel, err)
		}
	}
	if err := c.ws.WriteMessage(messageType, data); err != nil {
		return errors.New().Wrap(errors.ErrChannel, err)
	}

	return nil
}

// Close sends a close frame and closes the connection, unblocking any
// pending ReadCommand.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeGracePeriod))
		c.writeMu.Unlock()

		c.closeErr = c.ws.Close()
	})

	return c.closeErr
}
