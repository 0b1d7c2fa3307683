package ingest

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/sentry_relay/internal/metrics"
	"github.com/LeonardoBeccarini/sentry_relay/internal/model/messages"
)

const readChunkSize = 32 << 10

// Sink receives every decoded reading. The relay event bus implements it.
type Sink interface {
	Publish(r messages.Reading) (messages.Reading, error)
}

type ServerConfig struct {
	Addr          string
	MaxBufferSize int
	// IdleTimeout closes a connection that sends nothing for this long.
	IdleTimeout time.Duration
}

// Server accepts device connections and decodes each one as an independent
// stream of readings.
type Server struct {
	cfg     ServerConfig
	sink    Sink
	log     *zap.Logger
	metrics *metrics.Metrics

	mu    sync.Mutex
	ln    net.Listener
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
}

func NewServer(cfg ServerConfig, sink Sink, log *zap.Logger, m *metrics.Metrics) *Server {
	return &Server{
		cfg:     cfg,
		sink:    sink,
		log:     log.With(zap.String("transport", "tcp")),
		metrics: m,
		conns:   make(map[net.Conn]struct{}),
	}
}

// Serve accepts connections on ln until ctx is done, then closes every open
// connection and waits for their goroutines.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	s.log.Info("ingest listening", zap.String("addr", ln.Addr().String()))

	stop := context.AfterFunc(ctx, func() {
		_ = ln.Close()
		s.mu.Lock()
		for c := range s.conns {
			_ = c.Close()
		}
		s.mu.Unlock()
	})
	defer stop()

	var err error
	for {
		conn, aerr := ln.Accept()
		if aerr != nil {
			if ctx.Err() == nil && !errors.Is(aerr, net.ErrClosed) {
				err = aerr
			}
			break
		}
		s.track(conn, true)
		if ctx.Err() != nil {
			s.track(conn, false)
			_ = conn.Close()
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.track(conn, false)
			s.handleConn(conn)
		}()
	}

	s.mu.Lock()
	s.ln = nil
	s.mu.Unlock()
	s.wg.Wait()
	return err
}

// Addr returns the listening address, nil when not serving.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

func (s *Server) track(c net.Conn, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.conns[c] = struct{}{}
		s.metrics.ConnectionOpened()
		return
	}
	if _, ok := s.conns[c]; ok {
		delete(s.conns, c)
		s.metrics.ConnectionClosed()
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	log := s.log.With(zap.String("remote", conn.RemoteAddr().String()))
	log.Debug("device connected")

	dec := NewFrameDecoder(DecoderConfig{
		MaxBufferSize: s.cfg.MaxBufferSize,
		OnMalformed: func(err error, dropped []byte) {
			s.metrics.FrameMalformed("tcp")
			log.Warn("dropping malformed frame", zap.Error(err), zap.Int("bytes", len(dropped)))
		},
	})

	buf := make([]byte, readChunkSize)
	for {
		if s.cfg.IdleTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
		}
		n, err := conn.Read(buf)
		if n > 0 {
			readings, derr := dec.Append(buf[:n])
			publish(s.sink, readings, "tcp", s.metrics, log)
			if derr != nil {
				s.metrics.ProtocolViolation("tcp")
				log.Warn("closing connection", zap.Error(derr))
				return
			}
		}
		if err != nil {
			var ne net.Error
			switch {
			case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
				log.Debug("device disconnected")
			case errors.As(err, &ne) && ne.Timeout():
				log.Info("closing idle connection")
			default:
				log.Warn("read failed", zap.Error(err))
			}
			return
		}
	}
}

func publish(sink Sink, readings []messages.Reading, transport string, m *metrics.Metrics, log *zap.Logger) {
	for _, r := range readings {
		if _, err := sink.Publish(r); err != nil {
			log.Warn("reading rejected", zap.String("sensor_id", r.ID), zap.Error(err))
			continue
		}
		m.ReadingIngested(transport, string(r.Kind))
	}
}
