// Package engine turns an encrypted store file into a live in-memory payload
// and back. A store is opened, used through its services and then either
// closed, which re-encrypts it and atomically replaces the file, or
// discarded without writing.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/awnumar/memguard"
	"github.com/dmitrijs2005/ledger/internal/common"
	"github.com/dmitrijs2005/ledger/internal/cryptox"
	"github.com/dmitrijs2005/ledger/internal/filex"
	"github.com/dmitrijs2005/ledger/internal/ledger/models"
	"github.com/dmitrijs2005/ledger/internal/ledger/payload"
	"github.com/dmitrijs2005/ledger/internal/ledger/services"
)

const (
	filePerm = 0o600
	dirPerm  = 0o700
)

// BackupSuffix is appended to the store path for the copy kept on close.
const BackupSuffix = ".bak"

// Engine owns at most one open store. Transitions are serialized by a
// mutex; operations on the open payload are not.
type Engine struct {
	opts options

	mu      sync.Mutex
	state   State
	path    string
	header  cryptox.Header
	pass    *memguard.Enclave
	payload *payload.Payload
	svc     *services.Services
}

func New(opts ...Option) *Engine {
	o := defaultOptions()
	for _, fn := range opts {
		fn(&o)
	}
	return &Engine{opts: o}
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Path returns the file of the open store.
func (e *Engine) Path() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.path
}

func (e *Engine) expect(s State) error {
	if e.state != s {
		return fmt.Errorf("%w: engine is %s, want %s", common.ErrInvalidState, e.state, s)
	}
	return nil
}

// Services returns the operations of the open store.
func (e *Engine) Services() (*services.Services, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.expect(StateOpen); err != nil {
		return nil, err
	}
	return e.svc, nil
}

// DB returns the database of the open store for bulk readers such as
// export.
func (e *Engine) DB() (*sql.DB, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.expect(StateOpen); err != nil {
		return nil, err
	}
	return e.payload.DB(), nil
}

// Create writes a new empty store at path. It fails with
// common.ErrStoreExists when path exists and leaves the engine closed.
func (e *Engine) Create(ctx context.Context, path string, passphrase []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.expect(StateClosed); err != nil {
		return err
	}

	exists, err := filex.Exists(path)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", common.ErrStoreExists, path)
	}
	if err := cryptox.ValidatePassphrase(passphrase, e.opts.minPassLen); err != nil {
		return err
	}
	if err := e.opts.kdf.Validate(); err != nil {
		return fmt.Errorf("%w: %v", common.ErrValidation, err)
	}
	if err := filex.EnsureDir(filepath.Dir(path), dirPerm); err != nil {
		return err
	}

	salt, err := cryptox.NewSalt()
	if err != nil {
		return err
	}
	deviceID := models.NewID()
	p, err := payload.New(ctx, deviceID, e.opts.now().UTC().Truncate(time.Millisecond), e.opts.log)
	if err != nil {
		return err
	}

	e.attach(path, cryptox.Header{KDF: cryptox.KDFArgon2id, Params: e.opts.kdf, Salt: salt}, passphrase, p, deviceID)
	if err := e.close(ctx, false); err != nil {
		return err
	}
	e.opts.log.Info(ctx, "store created", "path", path)
	return nil
}

// Open decrypts the store at path. A missing file is
// common.ErrStoreNotFound and a wrong passphrase or tampered file is
// common.ErrAuthFailed; both leave the engine closed so the caller can
// retry. Failures after decryption move the engine to StateError.
func (e *Engine) Open(ctx context.Context, path string, passphrase []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.expect(StateClosed); err != nil {
		return err
	}
	e.state = StateOpening

	data, err := os.ReadFile(path)
	if err != nil {
		e.state = StateClosed
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", common.ErrStoreNotFound, path)
		}
		return fmt.Errorf("read store: %w", err)
	}

	plaintext, header, err := cryptox.OpenContainer(passphrase, data)
	if err != nil {
		e.state = StateClosed
		return err
	}
	defer common.WipeByteArray(plaintext)

	p, err := payload.FromBytes(ctx, plaintext, e.opts.log)
	if err != nil {
		e.state = StateError
		return err
	}
	deviceID, err := p.DeviceID(ctx)
	if err != nil {
		_ = p.Close()
		e.state = StateError
		return fmt.Errorf("%w: read device id: %v", common.ErrIntegrity, err)
	}

	e.attach(path, header, passphrase, p, deviceID)
	e.opts.log.Debug(ctx, "store opened", "path", path)
	return nil
}

// attach moves the engine to StateOpen around p. The passphrase is copied
// into an encrypted enclave for the re-seal on close.
func (e *Engine) attach(path string, h cryptox.Header, passphrase []byte, p *payload.Payload, deviceID string) {
	e.path = path
	e.header = h
	e.pass = memguard.NewEnclave(append([]byte(nil), passphrase...))
	e.payload = p
	e.svc = services.New(p.DB(), deviceID, e.opts.log.With("store", path))
	e.state = StateOpen
}

// Close re-encrypts the payload and atomically replaces the file. With
// backups enabled the previous file is first copied to "<path>.bak". A
// failure leaves the old file untouched and the engine in StateError.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.expect(StateOpen); err != nil {
		return err
	}
	return e.close(ctx, e.opts.backup)
}

func (e *Engine) close(ctx context.Context, backup bool) error {
	e.state = StateClosing

	if err := e.save(ctx, backup); err != nil {
		e.release()
		e.state = StateError
		return err
	}
	e.release()
	e.state = StateClosed
	e.opts.log.Debug(ctx, "store closed", "path", e.path)
	return nil
}

func (e *Engine) save(ctx context.Context, backup bool) error {
	plaintext, err := e.payload.Bytes(ctx)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(plaintext)

	if e.pass == nil {
		return fmt.Errorf("%w: no passphrase", common.ErrInvalidState)
	}
	lb, err := e.pass.Open()
	if err != nil {
		return fmt.Errorf("%w: passphrase enclave: %v", common.ErrInvalidState, err)
	}
	defer lb.Destroy()

	sealed, err := cryptox.SealContainer(lb.Bytes(), e.header.Salt, e.header.Params, plaintext)
	if err != nil {
		return fmt.Errorf("seal store: %w", err)
	}

	if backup {
		if err := filex.CopyAtomic(e.path, e.path+BackupSuffix, filePerm); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("backup store: %w", err)
		}
	}
	if err := e.opts.writer.Write(e.path, sealed, filePerm); err != nil {
		return fmt.Errorf("write store: %w", err)
	}
	return nil
}

// release drops the payload and the passphrase.
func (e *Engine) release() {
	if e.payload != nil {
		_ = e.payload.Close()
	}
	e.payload = nil
	e.svc = nil
	e.pass = nil
}

// Discard closes the open store without writing. From StateError it only
// frees what is left.
func (e *Engine) Discard() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch e.state {
	case StateOpen:
		e.release()
		e.state = StateClosed
		return nil
	case StateError:
		e.release()
		return nil
	default:
		return e.expect(StateOpen)
	}
}

// Check runs the integrity report on the open store.
func (e *Engine) Check(ctx context.Context) (*services.Report, error) {
	svc, err := e.Services()
	if err != nil {
		return nil, err
	}
	return svc.Integrity.Check(ctx)
}

// CheckFile opens path read-only, checks it and discards the session. The
// file is never written.
func CheckFile(ctx context.Context, path string, passphrase []byte, opts ...Option) (*services.Report, error) {
	e := New(opts...)
	if err := e.Open(ctx, path, passphrase); err != nil {
		return nil, err
	}
	defer e.Discard()
	return e.Check(ctx)
}

// Backup copies the encrypted store at src to dest with owner-only
// permissions. The copy opens with the same passphrase.
func Backup(src, dest string) error {
	if filepath.Clean(src) == filepath.Clean(dest) {
		return fmt.Errorf("%w: backup destination is the store itself", common.ErrValidation)
	}
	if _, err := os.Stat(src); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", common.ErrStoreNotFound, src)
		}
		return err
	}
	if err := filex.EnsureDir(filepath.Dir(dest), dirPerm); err != nil {
		return err
	}
	return filex.CopyAtomic(src, dest, filePerm)
}
