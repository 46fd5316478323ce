// Package client talks to the session cache daemon and starts it when it is
// needed. Session wraps the client so every failure degrades to "not
// cached".
package client

import (
	"bufio"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dmitrijs2005/ledger/internal/cache/protocol"
	"github.com/dmitrijs2005/ledger/internal/common"
	"golang.org/x/crypto/blake2b"
)

// KeyFor derives the cache key of a store: the first 32 hex characters of
// the BLAKE2b-256 of its canonical absolute path.
func KeyFor(storePath string) (string, error) {
	abs, err := filepath.Abs(storePath)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", storePath, err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	} else if !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("resolve %s: %w", storePath, err)
	}
	sum := blake2b.Sum256([]byte(abs))
	return hex.EncodeToString(sum[:])[:protocol.KeyLength], nil
}

// Spawner starts a daemon listening on socket with the given default TTL.
type Spawner func(socket string, ttl time.Duration) error

type Client struct {
	socket  string
	timeout time.Duration
	spawn   Spawner
	// readyWait bounds how long EnsureRunning waits for a spawned daemon.
	readyWait time.Duration
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

func WithSpawner(s Spawner) Option {
	return func(c *Client) { c.spawn = s }
}

func WithReadyWait(d time.Duration) Option {
	return func(c *Client) { c.readyWait = d }
}

func New(socket string, opts ...Option) *Client {
	c := &Client{
		socket:    socket,
		timeout:   time.Second,
		spawn:     SpawnSelf,
		readyWait: 2 * time.Second,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) Socket() string {
	return c.socket
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", common.ErrCacheUnavailable, err)
}

// roundTrip sends one request on a fresh connection and reads the answer.
// ERROR answers come back as errors.
func (c *Client) roundTrip(ctx context.Context, req protocol.Request) (protocol.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", c.socket)
	if err != nil {
		return protocol.Response{}, unavailable(err)
	}
	defer conn.Close()
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}

	if _, err := conn.Write([]byte(req.String() + "\n")); err != nil {
		return protocol.Response{}, unavailable(err)
	}
	line, err := bufio.NewReaderSize(conn, protocol.MaxLineBytes).ReadString('\n')
	if err != nil {
		return protocol.Response{}, unavailable(err)
	}
	resp, err := protocol.ParseResponse(line)
	if err != nil {
		return protocol.Response{}, unavailable(err)
	}
	if resp.Kind == protocol.RespError {
		return resp, unavailable(errors.New(resp.Arg))
	}
	return resp, nil
}

func expect(resp protocol.Response, kind string) error {
	if resp.Kind != kind {
		return unavailable(fmt.Errorf("unexpected response %s", resp.Kind))
	}
	return nil
}

func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.roundTrip(ctx, protocol.Request{Cmd: protocol.CmdPing})
	if err != nil {
		return err
	}
	return expect(resp, protocol.RespPong)
}

// Store caches secret under key. A zero ttl uses the daemon default.
func (c *Client) Store(ctx context.Context, key string, secret []byte, ttl time.Duration) error {
	req := protocol.Request{Cmd: protocol.CmdStore, Key: key, Payload: protocol.EncodePayload(secret)}
	if ttl > 0 {
		req.TTL = max(ttl.Truncate(time.Second), time.Second)
	}
	resp, err := c.roundTrip(ctx, req)
	if err != nil {
		return err
	}
	return expect(resp, protocol.RespOK)
}

// Get returns the cached secret for key and whether there was one.
func (c *Client) Get(ctx context.Context, key string) ([]byte, bool, error) {
	resp, err := c.roundTrip(ctx, protocol.Request{Cmd: protocol.CmdGet, Key: key})
	if err != nil {
		return nil, false, err
	}
	switch resp.Kind {
	case protocol.RespNotFound:
		return nil, false, nil
	case protocol.RespPassphrase:
		secret, err := protocol.DecodePayload(resp.Arg)
		if err != nil {
			return nil, false, unavailable(err)
		}
		return secret, true, nil
	}
	return nil, false, expect(resp, protocol.RespPassphrase)
}

func (c *Client) Forget(ctx context.Context, key string) error {
	resp, err := c.roundTrip(ctx, protocol.Request{Cmd: protocol.CmdForget, Key: key})
	if err != nil {
		return err
	}
	return expect(resp, protocol.RespOK)
}

// Clear wipes every cached secret and stops the daemon.
func (c *Client) Clear(ctx context.Context) error {
	resp, err := c.roundTrip(ctx, protocol.Request{Cmd: protocol.CmdClear})
	if err != nil {
		return err
	}
	return expect(resp, protocol.RespOK)
}

// EnsureRunning pings the daemon and spawns it when nobody answers, then
// waits with exponential backoff until it does.
func (c *Client) EnsureRunning(ctx context.Context, ttl time.Duration) error {
	if c.Ping(ctx) == nil {
		return nil
	}
	if c.spawn == nil {
		return unavailable(errors.New("daemon not running"))
	}
	if err := c.spawn(c.socket, ttl); err != nil {
		return unavailable(fmt.Errorf("spawn daemon: %w", err))
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = 20 * time.Millisecond
	exp.Multiplier = 2
	exp.MaxInterval = 400 * time.Millisecond
	exp.MaxElapsedTime = c.readyWait
	exp.Reset()

	err := backoff.Retry(func() error { return c.Ping(ctx) }, backoff.WithContext(exp, ctx))
	if err != nil {
		return unavailable(fmt.Errorf("daemon did not come up: %w", err))
	}
	return nil
}

// SpawnSelf starts "<this executable> cache-daemon" detached in its own
// session with no standard streams.
func SpawnSelf(socket string, ttl time.Duration) error {
	self, err := os.Executable()
	if err != nil {
		return err
	}
	secs := int64(ttl / time.Second)
	if secs <= 0 {
		secs = 1
	}
	cmd := exec.Command(self, "cache-daemon", "--socket", socket, "--ttl", strconv.FormatInt(secs, 10))
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	cmd.Stdin, cmd.Stdout, cmd.Stderr = nil, nil, nil
	if err := cmd.Start(); err != nil {
		return err
	}
	return cmd.Process.Release()
}
