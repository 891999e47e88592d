package epson

import (
	"context"
	"log/slog"

	"github.com/pkg/errors"
	"github.com/sourcegraph/conc/pool"
	slogctx "github.com/veqryn/slog-context"

	"github.com/ivanvanderbyl/epson-projector/pkg/entries"
)

// Platform is a presentation module set up and torn down alongside each entry,
// such as the media player surface.
type Platform interface {
	Name() string
	SetupEntry(ctx context.Context, entry entries.Entry, session Session) error
	UnloadEntry(ctx context.Context, entry entries.Entry) (bool, error)
}

// Manager sets up and unloads config entries. Concurrent Setup and Unload of
// the same entry are not supported.
type Manager struct {
	validator *Validator
	registry  *Registry
	platforms []Platform
}

func NewManager(validator *Validator, registry *Registry, platforms ...Platform) *Manager {
	return &Manager{
		validator: validator,
		registry:  registry,
		platforms: platforms,
	}
}

// SetupTask tracks the platform setups started by Manager.Setup
type SetupTask struct {
	done chan struct{}
	err  error
}

// Done is closed once every platform setup has returned
func (t *SetupTask) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until every platform setup has returned and reports the
// combined error.
func (t *SetupTask) Wait() error {
	<-t.done
	return t.err
}

// Setup opens a session for entry without checking power, stores it in the
// registry and starts every platform setup in the background. It returns
// false if the session could not be opened or the entry is already set up, in
// which case the registry is left unchanged.
func (m *Manager) Setup(ctx context.Context, entry entries.Entry) (*SetupTask, bool) {
	ctx = slogctx.Append(ctx, "entry_id", entry.ID, "host", entry.Data.Host)

	if _, ok := m.registry.Get(entry.ID); ok {
		slog.WarnContext(ctx, "Projector entry already set up")
		return nil, false
	}

	res := m.validator.Validate(ctx, entry.Data.Host, false)
	if !res.OK() {
		slog.WarnContext(ctx, "Cannot connect to projector", "error", res.Err())
		return nil, false
	}

	if !m.registry.StoreIfAbsent(entry.ID, res.Session) {
		slog.WarnContext(ctx, "Projector entry already set up")
		if err := res.Session.Close(); err != nil {
			slog.DebugContext(ctx, "Closing projector session", "error", err)
		}
		return nil, false
	}

	p := pool.New().WithErrors().WithContext(ctx)
	for _, platform := range m.platforms {
		platform := platform
		p.Go(func(ctx context.Context) error {
			err := platform.SetupEntry(ctx, entry, res.Session)
			if err != nil {
				slog.ErrorContext(ctx, "Failed to set up platform", "platform", platform.Name(), "error", err)
				return errors.Wrapf(err, "setting up %s", platform.Name())
			}
			slog.DebugContext(ctx, "Platform set up", "platform", platform.Name())
			return nil
		})
	}

	task := &SetupTask{done: make(chan struct{})}
	go func() {
		task.err = p.Wait()
		close(task.done)
	}()

	return task, true
}

// Unload tears down every platform for entry concurrently. Only when all of
// them succeed is the session removed from the registry and closed.
func (m *Manager) Unload(ctx context.Context, entry entries.Entry) bool {
	ctx = slogctx.Append(ctx, "entry_id", entry.ID, "host", entry.Data.Host)

	p := pool.NewWithResults[bool]()
	for _, platform := range m.platforms {
		platform := platform
		p.Go(func() bool {
			ok, err := platform.UnloadEntry(ctx, entry)
			if err != nil {
				slog.ErrorContext(ctx, "Failed to unload platform", "platform", platform.Name(), "error", err)
				return false
			}
			if !ok {
				slog.WarnContext(ctx, "Platform did not unload", "platform", platform.Name())
			}
			return ok
		})
	}

	for _, ok := range p.Wait() {
		if !ok {
			return false
		}
	}

	if session, ok := m.registry.Delete(entry.ID); ok {
		if err := session.Close(); err != nil {
			slog.DebugContext(ctx, "Closing projector session", "error", err)
		}
	}

	return true
}

// Session returns the open session for a loaded entry
func (m *Manager) Session(entryID string) (Session, bool) {
	return m.registry.Get(entryID)
}

func (m *Manager) Platforms() []string {
	names := make([]string, 0, len(m.platforms))
	for _, p := range m.platforms {
		names = append(names, p.Name())
	}
	return names
}
