// Package daemon is the session cache server. It keeps passphrases in locked
// memory for a bounded time and serves them over an owner-only unix socket.
// It exits on its own once nothing is cached and no request arrived for the
// idle grace period, on CLEAR, or when its context is cancelled.
package daemon

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dmitrijs2005/ledger/internal/cache/protocol"
	"github.com/dmitrijs2005/ledger/internal/common"
	"github.com/dmitrijs2005/ledger/internal/filex"
	"github.com/dmitrijs2005/ledger/internal/logging"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultTTL       = 15 * time.Minute
	DefaultIdleGrace = 60 * time.Second

	socketPerm = 0o600
	dirPerm    = 0o700
)

type Options struct {
	SocketPath    string
	TTL           time.Duration
	IdleGrace     time.Duration
	SweepInterval time.Duration
	// ConnTimeout bounds how long a connection may sit between requests.
	ConnTimeout time.Duration
	Log         logging.Logger
	Now         func() time.Time
}

func (o *Options) defaults() {
	if o.TTL <= 0 {
		o.TTL = DefaultTTL
	}
	if o.IdleGrace <= 0 {
		o.IdleGrace = DefaultIdleGrace
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = min(time.Second, o.IdleGrace)
	}
	if o.ConnTimeout <= 0 {
		o.ConnTimeout = 5 * time.Second
	}
	if o.Log == nil {
		o.Log = logging.Nop()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

type Server struct {
	opts  Options
	table *Table
	log   logging.Logger

	mu           sync.Mutex
	lastActivity time.Time
	conns        map[net.Conn]struct{}

	stop     context.CancelFunc
	stopOnce sync.Once
}

func New(opts Options) *Server {
	opts.defaults()
	return &Server{
		opts:         opts,
		table:        NewTable(opts.Now),
		log:          opts.Log.With("module", "cache_daemon"),
		lastActivity: opts.Now(),
		conns:        map[net.Conn]struct{}{},
	}
}

// Listen prepares the socket directory, removes a stale socket and binds.
// A socket that still answers means another daemon owns it.
func Listen(path string) (net.Listener, error) {
	if err := filex.EnsureDir(filepath.Dir(path), dirPerm); err != nil {
		return nil, fmt.Errorf("socket dir: %w", err)
	}
	if _, err := os.Lstat(path); err == nil {
		if c, err := net.DialTimeout("unix", path, 500*time.Millisecond); err == nil {
			_ = c.Close()
			return nil, fmt.Errorf("%w: a cache daemon is already listening on %s", common.ErrAlreadyExists, path)
		}
		if err := os.Remove(path); err != nil {
			return nil, fmt.Errorf("remove stale socket: %w", err)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("stat socket: %w", err)
	}

	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", path, err)
	}
	if err := os.Chmod(path, socketPerm); err != nil {
		_ = ln.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}
	return ln, nil
}

// Run binds the socket and serves until shutdown. Secrets are destroyed
// before the socket file is removed.
func (s *Server) Run(ctx context.Context) error {
	ln, err := Listen(s.opts.SocketPath)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener. It owns ln and removes its socket
// file on return.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.stop = cancel

	if ul, ok := ln.(*net.UnixListener); ok {
		// the socket file is removed below, after secrets are gone
		ul.SetUnlinkOnClose(false)
	}

	s.log.Info(ctx, "cache daemon started", "socket", s.opts.SocketPath, "ttl", s.opts.TTL.String())

	var handlers sync.WaitGroup
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-gctx.Done()
		// secrets go before the socket stops accepting
		s.table.Clear()
		_ = ln.Close()
		s.closeConns()
		return nil
	})

	g.Go(func() error {
		for {
			conn, err := ln.Accept()
			if err != nil {
				if gctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("accept: %w", err)
			}
			s.track(conn, true)
			handlers.Add(1)
			go func() {
				defer handlers.Done()
				defer s.track(conn, false)
				s.serveConn(gctx, conn)
			}()
		}
	})

	g.Go(func() error {
		t := time.NewTicker(s.opts.SweepInterval)
		defer t.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-t.C:
				if n := s.table.Sweep(); n > 0 {
					s.log.Debug(gctx, "expired cached secrets", "count", n)
				}
				if s.idle() {
					s.log.Info(gctx, "idle, shutting down")
					s.shutdown()
					return nil
				}
			}
		}
	})

	err := g.Wait()
	handlers.Wait()

	s.table.Clear()
	if rmErr := os.Remove(s.opts.SocketPath); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
		err = errors.Join(err, fmt.Errorf("remove socket: %w", rmErr))
	}
	s.log.Info(context.Background(), "cache daemon stopped")
	return err
}

func (s *Server) shutdown() {
	s.stopOnce.Do(func() {
		if s.stop != nil {
			s.stop()
		}
	})
}

func (s *Server) touch() {
	s.mu.Lock()
	s.lastActivity = s.opts.Now()
	s.mu.Unlock()
}

func (s *Server) idle() bool {
	if s.table.Len() > 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.conns) > 0 {
		return false
	}
	return s.opts.Now().Sub(s.lastActivity) >= s.opts.IdleGrace
}

func (s *Server) track(c net.Conn, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.conns[c] = struct{}{}
	} else {
		delete(s.conns, c)
	}
}

func (s *Server) closeConns() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		_ = c.Close()
	}
}

// serveConn answers request lines in order until the peer hangs up, the
// connection idles out or the server stops.
func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 0, 512), protocol.MaxLineBytes)
	w := bufio.NewWriter(conn)

	for ctx.Err() == nil {
		_ = conn.SetDeadline(time.Now().Add(s.opts.ConnTimeout))
		if !sc.Scan() {
			if err := sc.Err(); err != nil && ctx.Err() == nil && !errors.Is(err, os.ErrDeadlineExceeded) {
				_, _ = w.WriteString(protocol.Errorf("read: %v", err).String() + "\n")
				_ = w.Flush()
			}
			return
		}
		s.touch()

		resp, last := s.handle(ctx, sc.Text())
		if _, err := w.WriteString(resp.String() + "\n"); err != nil {
			return
		}
		if err := w.Flush(); err != nil {
			return
		}
		if last {
			s.shutdown()
			return
		}
	}
}

// handle executes one request. last is set when the daemon must stop after
// answering.
func (s *Server) handle(ctx context.Context, line string) (resp protocol.Response, last bool) {
	req, err := protocol.ParseRequest(line)
	if err != nil {
		s.log.Debug(ctx, "bad request", "error", err)
		return protocol.Errorf("%v", err), false
	}

	switch req.Cmd {
	case protocol.CmdPing:
		return protocol.Response{Kind: protocol.RespPong}, false

	case protocol.CmdStore:
		secret, err := protocol.DecodePayload(req.Payload)
		if err != nil {
			return protocol.Errorf("%v", err), false
		}
		ttl := req.TTL
		if ttl <= 0 {
			ttl = s.opts.TTL
		}
		s.table.Store(req.Key, secret, ttl)
		s.log.Debug(ctx, "stored secret", "key", req.Key, "ttl", ttl.String())
		return protocol.Response{Kind: protocol.RespOK}, false

	case protocol.CmdGet:
		secret, ok := s.table.Get(req.Key)
		if !ok {
			return protocol.Response{Kind: protocol.RespNotFound}, false
		}
		payload := protocol.EncodePayload(secret)
		common.WipeByteArray(secret)
		return protocol.Response{Kind: protocol.RespPassphrase, Arg: payload}, false

	case protocol.CmdForget:
		s.table.Forget(req.Key)
		return protocol.Response{Kind: protocol.RespOK}, false

	case protocol.CmdClear:
		s.table.Clear()
		s.log.Info(ctx, "cleared, shutting down")
		return protocol.Response{Kind: protocol.RespOK}, true
	}
	return protocol.Errorf("unknown command %q", req.Cmd), false
}
