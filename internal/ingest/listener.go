package ingest

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/VenkatGGG/gpu-reserve/internal/reservation"
)

const DefaultAddr = "127.0.0.1:7630"

var (
	ErrMalformedPayload = errors.New("malformed submission payload")
	errEmptyPayload     = errors.New("connection closed without payload")
)

type Config struct {
	Addr            string
	ReadTimeout     time.Duration
	MaxPayloadBytes int64
	BufferSize      int
}

// Listener accepts one JSON submission per connection and hands decoded
// requests to a single consumer through Drain.
type Listener struct {
	cfg    Config
	logger *zap.Logger
	ln     net.Listener

	requests chan reservation.Request
	mu       sync.Mutex
	done     chan struct{}
	once     sync.Once
	wg       sync.WaitGroup
}

func Listen(cfg Config, logger *zap.Logger) (*Listener, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.MaxPayloadBytes <= 0 {
		cfg.MaxPayloadBytes = 64 << 10
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1024
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", cfg.Addr, err)
	}
	return &Listener{
		cfg:      cfg,
		logger:   logger,
		ln:       ln,
		requests: make(chan reservation.Request, cfg.BufferSize),
		done:     make(chan struct{}),
	}, nil
}

func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Serve accepts connections until ctx is cancelled or Close is called.
func (l *Listener) Serve(ctx context.Context) error {
	go func() {
		select {
		case <-ctx.Done():
			_ = l.Close()
		case <-l.done:
		}
	}()

	l.logger.Info("submission listener started", zap.String("addr", l.ln.Addr().String()))
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			select {
			case <-l.done:
				return nil
			default:
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			return fmt.Errorf("accept submission: %w", err)
		}

		if !l.track() {
			_ = conn.Close()
			return nil
		}
		go func() {
			defer l.wg.Done()
			l.handle(conn)
		}()
	}
}

func (l *Listener) handle(conn net.Conn) {
	defer conn.Close()
	connID := uuid.NewString()
	logger := l.logger.With(
		zap.String("conn_id", connID),
		zap.String("remote", conn.RemoteAddr().String()),
	)

	req, err := l.read(conn)
	if errors.Is(err, errEmptyPayload) {
		logger.Debug("connection closed without payload")
		return
	}
	if err != nil {
		logger.Warn("dropping submission", zap.Error(err))
		return
	}

	select {
	case l.requests <- req:
		logger.Debug("submission queued",
			zap.String("email", req.Email),
			zap.Bool("urgent", req.Urgent),
			zap.Bool("finished", req.Finished))
	case <-l.done:
		logger.Warn("listener closed before submission was queued", zap.String("email", req.Email))
	}
}

func (l *Listener) read(conn net.Conn) (reservation.Request, error) {
	if err := conn.SetReadDeadline(time.Now().Add(l.cfg.ReadTimeout)); err != nil {
		return reservation.Request{}, fmt.Errorf("set read deadline: %w", err)
	}

	reader := bufio.NewReader(io.LimitReader(conn, l.cfg.MaxPayloadBytes))
	line, err := reader.ReadBytes('\n')
	if errors.Is(err, io.EOF) && len(line) == 0 {
		return reservation.Request{}, errEmptyPayload
	}
	if err != nil && !(errors.Is(err, io.EOF) && len(line) > 0) {
		return reservation.Request{}, fmt.Errorf("%w: read: %v", ErrMalformedPayload, err)
	}

	var req reservation.Request
	if err := json.Unmarshal(line, &req); err != nil {
		return reservation.Request{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if err := reservation.ValidateEmail(req.Email); err != nil {
		return reservation.Request{}, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	return req, nil
}

// Drain takes every request queued so far, in arrival order. It never blocks
// and must only be called from the consumer goroutine.
func (l *Listener) Drain() []reservation.Request {
	var batch []reservation.Request
	for {
		select {
		case req := <-l.requests:
			batch = append(batch, req)
		default:
			return batch
		}
	}
}

// track registers a connection worker unless the listener is already closing.
// Registration and close share mu so no Add can race the final Wait.
func (l *Listener) track() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	select {
	case <-l.done:
		return false
	default:
	}
	l.wg.Add(1)
	return true
}

// Close stops accepting connections and waits for in-flight workers.
func (l *Listener) Close() error {
	var err error
	l.once.Do(func() {
		l.mu.Lock()
		close(l.done)
		l.mu.Unlock()
		err = l.ln.Close()
	})
	l.wg.Wait()
	return err
}
