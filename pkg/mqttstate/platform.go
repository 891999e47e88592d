// Package mqttstate publishes the power state of every loaded projector entry
// to MQTT and accepts power commands from it.
package mqttstate

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	slogctx "github.com/veqryn/slog-context"

	"github.com/ivanvanderbyl/epson-projector/pkg/entries"
	"github.com/ivanvanderbyl/epson-projector/pkg/epson"
	"github.com/ivanvanderbyl/epson-projector/pkg/escvp"
)

const (
	PlatformName = "mqtt"

	refreshInterval = 30 * time.Second
	commandTimeout  = 10 * time.Second
)

var ErrUnknownCommand = errors.New("unknown command")

type Platform struct {
	broker   Broker
	topics   Topics
	interval time.Duration

	mu      sync.Mutex
	running map[string]*publisher
}

type publisher struct {
	entry   entries.Entry
	session epson.Session
	broker  Broker
	topics  Topics

	cancel context.CancelFunc
	done   chan struct{}
	poke   chan struct{}
}

func NewPlatform(broker Broker, topics Topics) *Platform {
	return &Platform{
		broker:   broker,
		topics:   topics,
		interval: refreshInterval,
		running:  make(map[string]*publisher),
	}
}

func (p *Platform) Name() string {
	return PlatformName
}

// SetupEntry subscribes to the entry's command topic and starts publishing its
// power state. Publishing continues after ctx is cancelled, until UnloadEntry.
func (p *Platform) SetupEntry(ctx context.Context, entry entries.Entry, session epson.Session) error {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	pub := &publisher{
		entry:   entry,
		session: session,
		broker:  p.broker,
		topics:  p.topics,
		cancel:  cancel,
		done:    make(chan struct{}),
		poke:    make(chan struct{}, 1),
	}

	// Reserve the entry so the subscription is made without holding p.mu.
	p.mu.Lock()
	if _, ok := p.running[entry.ID]; ok {
		p.mu.Unlock()
		cancel()
		return errors.Errorf("entry %s already set up", entry.ID)
	}
	p.running[entry.ID] = pub
	p.mu.Unlock()

	err := p.broker.Subscribe(p.topics.Set(entry.ID), func(payload []byte) {
		pub.handleCommand(runCtx, payload)
	})
	if err != nil {
		cancel()
		close(pub.done)
		p.release(entry.ID, pub)
		return err
	}

	go pub.run(runCtx, p.interval)

	return nil
}

func (p *Platform) release(entryID string, pub *publisher) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running[entryID] == pub {
		delete(p.running, entryID)
	}
}

// UnloadEntry stops publishing, unsubscribes and marks the entry unavailable
func (p *Platform) UnloadEntry(ctx context.Context, entry entries.Entry) (bool, error) {
	p.mu.Lock()
	pub, ok := p.running[entry.ID]
	p.mu.Unlock()

	if !ok {
		return true, nil
	}

	pub.cancel()
	select {
	case <-pub.done:
	case <-ctx.Done():
		return false, errors.Wrap(ctx.Err(), "waiting for publisher")
	}

	if err := p.broker.Unsubscribe(p.topics.Set(entry.ID)); err != nil {
		return false, err
	}

	if err := p.broker.Publish(p.topics.Power(entry.ID), []byte(escvp.StateUnavailable), true); err != nil {
		slog.WarnContext(ctx, "Failed to publish unavailable state", "error", err)
	}

	p.release(entry.ID, pub)
	return true, nil
}

func (pub *publisher) run(ctx context.Context, interval time.Duration) {
	defer close(pub.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	pub.publishState(ctx)
	for {
		select {
		case <-ticker.C:
			pub.publishState(ctx)
		case <-pub.poke:
			pub.publishState(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (pub *publisher) publishState(ctx context.Context) {
	power, err := pub.session.GetProperty(ctx, escvp.PropertyPower)
	if ctx.Err() != nil {
		return
	}
	if err != nil || power == "" {
		slog.DebugContext(ctx, "Power unavailable", "error", err)
		power = escvp.StateUnavailable
	}

	err = pub.broker.Publish(pub.topics.Power(pub.entry.ID), []byte(power), true)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to publish power state", "error", err)
	}
}

func (pub *publisher) handleCommand(ctx context.Context, payload []byte) {
	ctx = slogctx.Append(ctx, "entry_id", pub.entry.ID)
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	err := applyCommand(ctx, pub.session, string(payload))
	if err != nil {
		slog.ErrorContext(ctx, "Failed to apply MQTT command", "payload", string(payload), "error", err)
		return
	}

	select {
	case pub.poke <- struct{}{}:
	default:
	}
}

func applyCommand(ctx context.Context, session epson.Session, command string) error {
	switch strings.ToUpper(strings.TrimSpace(command)) {
	case "ON":
		return errors.Wrap(session.PowerOn(ctx), "turning on projector")
	case "OFF":
		return errors.Wrap(session.PowerOff(ctx), "turning off projector")
	}
	return errors.Wrapf(ErrUnknownCommand, "%q", command)
}
