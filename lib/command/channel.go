// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package command

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/bureau-foundation/renderfarm/lib/clock"
	"github.com/bureau-foundation/renderfarm/lib/fault"
)

// Defaults applied by Dial to zero Config fields.
const (
	DefaultDialTimeout    = 10 * time.Second
	DefaultCommandTimeout = 30 * time.Minute
	DefaultQueueDepth     = 64
	DefaultReadBufferSize = 64 * 1024
)

// DefaultFailureMarkers are the substrings that reject a response when
// the command has no classifier.
var DefaultFailureMarkers = []string{"FAIL", "Exception"}

// Config holds the parameters for a Channel.
type Config struct {
	// DialTimeout bounds connection establishment.
	DialTimeout time.Duration

	// CommandTimeout bounds the wait for each response, measured from
	// the moment the command is written. Renders are long; the default
	// is generous.
	CommandTimeout time.Duration

	// FailureMarkers replaces DefaultFailureMarkers when non-nil.
	FailureMarkers []string

	// QueueDepth is how many commands may wait behind the one on the
	// wire before Send blocks.
	QueueDepth int

	// ReadBufferSize is the largest response read as one chunk.
	ReadBufferSize int

	// Dial opens the connection. Defaults to net.Dialer.DialContext
	// over TCP.
	Dial func(ctx context.Context, address string) (net.Conn, error)

	Clock  clock.Clock
	Logger *slog.Logger
}

func (cfg *Config) applyDefaults() {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = DefaultCommandTimeout
	}
	if cfg.FailureMarkers == nil {
		cfg.FailureMarkers = DefaultFailureMarkers
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = DefaultQueueDepth
	}
	if cfg.ReadBufferSize <= 0 {
		cfg.ReadBufferSize = DefaultReadBufferSize
	}
	if cfg.Dial == nil {
		var dialer net.Dialer
		cfg.Dial = func(ctx context.Context, address string) (net.Conn, error) {
			return dialer.DialContext(ctx, "tcp", address)
		}
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
}

// Channel is a serialized command connection to one worker host.
// Safe for concurrent use.
type Channel struct {
	address string
	conn    net.Conn
	config  Config
	logger  *slog.Logger

	queue  chan *request
	chunks chan []byte

	done     chan struct{}
	failOnce sync.Once
	errMu    sync.Mutex
	err      error

	goroutines sync.WaitGroup
}

// Dial connects to the worker host at address.
func Dial(ctx context.Context, address string, cfg Config) (*Channel, error) {
	cfg.applyDefaults()
	logger := cfg.Logger.With("address", address)

	dialContext, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	conn, err := cfg.Dial(dialContext, address)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return nil, &fault.Error{Kind: fault.Timeout, Op: "dial " + address, Err: err}
		}
		return nil, &fault.Error{Kind: fault.Connection, Op: "dial " + address, Err: err}
	}

	channel := &Channel{
		address: address,
		conn:    conn,
		config:  cfg,
		logger:  logger,
		queue:   make(chan *request, cfg.QueueDepth),
		chunks:  make(chan []byte),
		done:    make(chan struct{}),
	}
	channel.goroutines.Add(2)
	go channel.readLoop()
	go channel.writeLoop()

	logger.Info("command channel connected")
	return channel, nil
}

// Address returns the worker host address the channel is connected to.
func (c *Channel) Address() string {
	return c.address
}

// Done is closed when the channel stops accepting commands, either
// because Close was called or because the connection failed.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// Err returns the reason the channel stopped, or nil while it is
// running.
func (c *Channel) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// Close shuts the channel down. Commands still queued or on the wire
// fail with fault.Connection. Close is idempotent and waits for the
// channel's goroutines to exit.
func (c *Channel) Close() error {
	closed := c.fail(&fault.Error{Kind: fault.Connection, Op: "command channel " + c.address, Detail: "channel closed"}, false)
	c.goroutines.Wait()
	if closed != nil && !errors.Is(closed, net.ErrClosed) {
		return fmt.Errorf("command: closing connection to %s: %w", c.address, closed)
	}
	return nil
}

// fail records err as the channel's terminal error, closes done, and
// closes the connection. Only the first call has any effect; it
// returns the connection's Close error. unexpected selects the log
// level.
func (c *Channel) fail(err error, unexpected bool) error {
	var closeErr error
	c.failOnce.Do(func() {
		c.errMu.Lock()
		c.err = err
		c.errMu.Unlock()
		close(c.done)
		closeErr = c.conn.Close()
		if unexpected {
			c.logger.Warn("command channel failed", "error", err)
		} else {
			c.logger.Info("command channel closed")
		}
	})
	return closeErr
}

// readLoop turns inbound data into chunks. Each successful Read is one
// chunk.
func (c *Channel) readLoop() {
	defer c.goroutines.Done()
	buffer := make([]byte, c.config.ReadBufferSize)
	for {
		n, err := c.conn.Read(buffer)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buffer[:n])
			select {
			case c.chunks <- chunk:
			case <-c.done:
				return
			}
		}
		if err != nil {
			detail := "connection lost"
			if errors.Is(err, io.EOF) {
				detail = "worker closed the connection"
			}
			c.fail(&fault.Error{Kind: fault.Connection, Op: "read from " + c.address, Detail: detail, Err: err}, true)
			return
		}
	}
}

// writeLoop runs queued commands one at a time.
func (c *Channel) writeLoop() {
	defer c.goroutines.Done()
	for {
		select {
		case <-c.done:
			return
		case chunk := <-c.chunks:
			c.discardUnsolicited(chunk)
		case req := <-c.queue:
			c.run(req)
		}
	}
}

func (c *Channel) discardUnsolicited(chunk []byte) {
	c.logger.Warn("discarding unsolicited data from worker",
		"bytes", len(chunk),
		"data", truncate(string(chunk), 200),
	)
}

func (c *Channel) run(req *request) {
	if req.abandoned.Load() {
		req.finish(nil, &fault.Error{Kind: fault.Connection, Op: req.op(), Detail: "abandoned before sending"})
		return
	}

	// Anything already waiting was sent before this command existed.
	for drained := false; !drained; {
		select {
		case chunk := <-c.chunks:
			c.discardUnsolicited(chunk)
		default:
			drained = true
		}
	}

	started := c.config.Clock.Now()
	if _, err := io.WriteString(c.conn, req.command); err != nil {
		failure := &fault.Error{Kind: fault.Connection, Op: req.op(), Detail: "write failed", Err: err}
		c.fail(failure, true)
		req.finish(nil, failure)
		return
	}
	c.logger.Debug("command sent",
		"description", req.description,
		"command_fingerprint", req.fingerprint,
		"bytes", len(req.command),
	)

	timeout := c.config.Clock.After(c.config.CommandTimeout)
	select {
	case chunk := <-c.chunks:
		response := string(chunk)
		result := &Result{
			Description: req.description,
			Fingerprint: req.fingerprint,
			Response:    response,
			Elapsed:     c.config.Clock.Now().Sub(started),
		}
		err := c.classify(req, response)
		if err != nil {
			c.logger.Warn("command rejected",
				"description", req.description,
				"command_fingerprint", req.fingerprint,
				"response", truncate(response, 500),
			)
		} else {
			c.logger.Debug("command accepted",
				"description", req.description,
				"command_fingerprint", req.fingerprint,
				"elapsed", result.Elapsed,
			)
		}
		req.finish(result, err)
	case <-timeout:
		failure := &fault.Error{
			Kind:   fault.Timeout,
			Op:     req.op(),
			Detail: fmt.Sprintf("no response within %s", c.config.CommandTimeout),
		}
		c.fail(failure, true)
		req.finish(nil, failure)
	case <-c.done:
		req.finish(nil, c.Err())
	}
}

func (c *Channel) classify(req *request, response string) error {
	classify := req.classify
	if classify == nil {
		classify = MarkerClassifier(c.config.FailureMarkers)
	}
	err := classify(response)
	if err == nil {
		return nil
	}
	if fault.KindOf(err) != fault.Unknown {
		return fmt.Errorf("%s: %w", req.op(), err)
	}
	return &fault.Error{Kind: fault.Protocol, Op: req.op(), Detail: response, Err: err}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func truncate(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	return text[:limit] + "..."
}
