// Package protocol is the line protocol spoken between ledger processes and
// the session cache daemon. Every message is one line of space separated
// words terminated by '\n'.
//
//	PING                          -> PONG
//	STORE <key> <payload> [ttl]   -> OK
//	GET <key>                     -> PASSPHRASE <payload> | NOT_FOUND
//	FORGET <key>                  -> OK
//	CLEAR                         -> OK
//
// Any request may be answered with ERROR <reason>. Keys are 32 lowercase hex
// characters, payloads are standard base64 and ttl is whole seconds.
package protocol

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

const (
	CmdPing   = "PING"
	CmdStore  = "STORE"
	CmdGet    = "GET"
	CmdForget = "FORGET"
	CmdClear  = "CLEAR"

	RespPong       = "PONG"
	RespOK         = "OK"
	RespPassphrase = "PASSPHRASE"
	RespNotFound   = "NOT_FOUND"
	RespError      = "ERROR"
)

const (
	KeyLength = 32

	// MaxLineBytes bounds a single message, payload included.
	MaxLineBytes = 8 * 1024
)

var ErrMalformed = errors.New("malformed message")

// Request is a parsed client request. TTL is zero when the client did not
// send one.
type Request struct {
	Cmd     string
	Key     string
	Payload string
	TTL     time.Duration
}

// Response is a parsed daemon answer. Arg carries the payload of PASSPHRASE
// and the reason of ERROR.
type Response struct {
	Kind string
	Arg  string
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformed, fmt.Sprintf(format, args...))
}

// ValidKey reports whether k looks like a key produced by clients.
func ValidKey(k string) bool {
	if len(k) != KeyLength {
		return false
	}
	for i := 0; i < len(k); i++ {
		c := k[i]
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return false
		}
	}
	return true
}

// ParseRequest decodes one request line without its terminator.
func ParseRequest(line string) (Request, error) {
	words := strings.Fields(line)
	if len(words) == 0 {
		return Request{}, malformed("empty request")
	}
	req := Request{Cmd: words[0]}
	args := words[1:]

	switch req.Cmd {
	case CmdPing, CmdClear:
		if len(args) != 0 {
			return Request{}, malformed("%s takes no arguments", req.Cmd)
		}
	case CmdGet, CmdForget:
		if len(args) != 1 {
			return Request{}, malformed("%s needs a key", req.Cmd)
		}
		req.Key = args[0]
	case CmdStore:
		if len(args) != 2 && len(args) != 3 {
			return Request{}, malformed("STORE needs a key, a payload and an optional ttl")
		}
		req.Key, req.Payload = args[0], args[1]
		if _, err := DecodePayload(req.Payload); err != nil {
			return Request{}, err
		}
		if len(args) == 3 {
			secs, err := strconv.ParseUint(args[2], 10, 32)
			if err != nil || secs == 0 {
				return Request{}, malformed("bad ttl %q", args[2])
			}
			req.TTL = time.Duration(secs) * time.Second
		}
	default:
		return Request{}, malformed("unknown command %q", req.Cmd)
	}

	if req.Key != "" && !ValidKey(req.Key) {
		return Request{}, malformed("bad key")
	}
	return req, nil
}

// String encodes r as a request line without the terminator.
func (r Request) String() string {
	switch r.Cmd {
	case CmdGet, CmdForget:
		return r.Cmd + " " + r.Key
	case CmdStore:
		s := r.Cmd + " " + r.Key + " " + r.Payload
		if r.TTL > 0 {
			s += " " + strconv.FormatInt(int64(r.TTL/time.Second), 10)
		}
		return s
	}
	return r.Cmd
}

// ParseResponse decodes one response line without its terminator.
func ParseResponse(line string) (Response, error) {
	kind, arg, _ := strings.Cut(strings.TrimRight(line, "\r\n"), " ")
	switch kind {
	case RespPong, RespOK, RespNotFound:
		if arg != "" {
			return Response{}, malformed("%s takes no argument", kind)
		}
	case RespPassphrase:
		if _, err := DecodePayload(arg); err != nil {
			return Response{}, err
		}
	case RespError:
	default:
		return Response{}, malformed("unknown response %q", kind)
	}
	return Response{Kind: kind, Arg: arg}, nil
}

func (r Response) String() string {
	if r.Arg == "" {
		return r.Kind
	}
	return r.Kind + " " + r.Arg
}

func Errorf(format string, args ...any) Response {
	reason := strings.Join(strings.Fields(fmt.Sprintf(format, args...)), " ")
	return Response{Kind: RespError, Arg: reason}
}

func EncodePayload(secret []byte) string {
	return base64.StdEncoding.EncodeToString(secret)
}

func DecodePayload(s string) ([]byte, error) {
	if s == "" {
		return nil, malformed("empty payload")
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, malformed("payload is not base64")
	}
	return b, nil
}

// DefaultSocketPath is $XDG_RUNTIME_DIR/ledger/cache.sock, or
// /tmp/ledger-<euid>/cache.sock when no runtime dir is set.
func DefaultSocketPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "ledger", "cache.sock")
	}
	return filepath.Join(os.TempDir(), fmt.Sprintf("ledger-%d", unix.Geteuid()), "cache.sock")
}
