package epson

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/ivanvanderbyl/epson-projector/pkg/entries"
	"github.com/ivanvanderbyl/epson-projector/pkg/escvp"
)

type fakeSession struct {
	host      string
	power     string
	powerErr  error
	serial    string
	serialErr error

	mu     sync.Mutex
	reads  int
	closed int
}

func (s *fakeSession) Host() string { return s.host }

func (s *fakeSession) GetProperty(_ context.Context, prop escvp.Property) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	if prop != escvp.PropertyPower {
		return escvp.StateUnavailable, nil
	}
	return s.power, s.powerErr
}

func (s *fakeSession) GetSerialNumber(context.Context) (string, error) {
	return s.serial, s.serialErr
}

func (s *fakeSession) PowerOn(context.Context) error  { return nil }
func (s *fakeSession) PowerOff(context.Context) error { return nil }

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

func (s *fakeSession) readCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}

func (s *fakeSession) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// fakeNetwork hands out one session per host
type fakeNetwork map[string]*fakeSession

func (n fakeNetwork) open(host string) (Session, error) {
	if host == "" {
		return nil, escvp.ErrInvalidHost
	}
	s, ok := n[host]
	if !ok {
		s = &fakeSession{host: host, powerErr: errors.New("connection refused")}
		n[host] = s
	}
	return s, nil
}

type fakePlatform struct {
	name      string
	setupErr  error
	unloadOK  bool
	unloadErr error
	release   chan struct{}

	mu       sync.Mutex
	setups   []string
	unloads  []string
	sessions []Session
}

func (p *fakePlatform) Name() string { return p.name }

func (p *fakePlatform) SetupEntry(ctx context.Context, entry entries.Entry, session Session) error {
	if p.release != nil {
		select {
		case <-p.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.setups = append(p.setups, entry.ID)
	p.sessions = append(p.sessions, session)
	return p.setupErr
}

func (p *fakePlatform) UnloadEntry(_ context.Context, entry entries.Entry) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unloads = append(p.unloads, entry.ID)
	return p.unloadOK, p.unloadErr
}

func (p *fakePlatform) setupCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.setups)
}
