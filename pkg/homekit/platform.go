// Package homekit is the media player surface: every loaded projector entry
// is published as a HomeKit television accessory.
package homekit

import (
	"context"
	syslog "log"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/brutella/hap"
	"github.com/brutella/hap/accessory"
	"github.com/brutella/hap/log"
	"github.com/pkg/errors"

	"github.com/ivanvanderbyl/epson-projector/pkg/entries"
	"github.com/ivanvanderbyl/epson-projector/pkg/epson"
)

const PlatformName = "media_player"

var ErrAlreadySetUp = errors.New("entry already set up")

type Option func(*Platform)

// WithServer replaces the HAP server, used by tests to avoid binding sockets
func WithServer(serve func(ctx context.Context, storeDir, pin string, a *accessory.A) error) Option {
	return func(p *Platform) {
		p.serve = serve
	}
}

// WithDebug routes the HAP library's debug output to stdout
func WithDebug() Option {
	return func(p *Platform) {
		log.Debug = &log.Logger{Logger: syslog.New(os.Stdout, "HAP ", syslog.LstdFlags|syslog.Lshortfile)}
	}
}

type Platform struct {
	storePath string
	pin       string
	serve     func(ctx context.Context, storeDir, pin string, a *accessory.A) error

	mu      sync.Mutex
	running map[string]*run
}

type run struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func NewPlatform(storePath, pin string, opts ...Option) *Platform {
	p := &Platform{
		storePath: storePath,
		pin:       pin,
		serve:     startServer,
		running:   make(map[string]*run),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Platform) Name() string {
	return PlatformName
}

// SetupEntry builds the accessory and starts serving it in the background. The
// accessory keeps running after ctx is cancelled, until UnloadEntry.
func (p *Platform) SetupEntry(ctx context.Context, entry entries.Entry, session epson.Session) error {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r := &run{cancel: cancel, done: make(chan struct{})}

	// Reserve the entry so the accessory can be built without holding p.mu.
	p.mu.Lock()
	if _, ok := p.running[entry.ID]; ok {
		p.mu.Unlock()
		cancel()
		return errors.Wrap(ErrAlreadySetUp, entry.ID)
	}
	p.running[entry.ID] = r
	p.mu.Unlock()

	storeDir := filepath.Join(p.storePath, entry.ID)
	pc := NewProjectorController(entry, session, func(ctx context.Context, a *accessory.A) error {
		return p.serve(ctx, storeDir, p.pin, a)
	})

	err := pc.createAccessory(runCtx)
	if err == nil {
		err = runCtx.Err()
	}
	if err != nil {
		cancel()
		close(r.done)
		p.release(entry.ID, r)
		return errors.Wrap(err, "creating accessory")
	}

	go func() {
		defer close(r.done)
		err := pc.Start(runCtx)
		if err != nil {
			slog.ErrorContext(runCtx, "Projector controller stopped", "error", err)
		}
	}()

	return nil
}

func (p *Platform) release(entryID string, r *run) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running[entryID] == r {
		delete(p.running, entryID)
	}
}

// UnloadEntry stops the accessory and waits for its server to exit. Entries
// that were never set up unload successfully.
func (p *Platform) UnloadEntry(ctx context.Context, entry entries.Entry) (bool, error) {
	p.mu.Lock()
	r, ok := p.running[entry.ID]
	p.mu.Unlock()

	if !ok {
		return true, nil
	}

	r.cancel()

	select {
	case <-r.done:
	case <-ctx.Done():
		return false, errors.Wrap(ctx.Err(), "waiting for accessory server")
	}

	p.release(entry.ID, r)
	return true, nil
}

func startServer(ctx context.Context, storeDir, pin string, a *accessory.A) error {
	slog.InfoContext(ctx, "Starting HomeKit server", "store", storeDir)

	fs := hap.NewFsStore(storeDir)

	// Create the hap server.
	server, err := hap.NewServer(fs, a)
	if err != nil {
		return errors.Wrap(err, "creating server")
	}
	server.Pin = pin

	// Run the server.
	return server.ListenAndServe(ctx)
}
