package mqttstate

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivanvanderbyl/epson-projector/pkg/entries"
	"github.com/ivanvanderbyl/epson-projector/pkg/escvp"
)

type message struct {
	topic    string
	payload  string
	retained bool
}

type fakeBroker struct {
	mu           sync.Mutex
	published    []message
	handlers     map[string]func([]byte)
	unsubscribed []string
	subscribeErr error

	// gates hold Subscribe for a topic until closed
	gates map[string]chan struct{}
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{handlers: make(map[string]func([]byte))}
}

func (b *fakeBroker) Publish(topic string, payload []byte, retained bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, message{topic: topic, payload: string(payload), retained: retained})
	return nil
}

func (b *fakeBroker) Subscribe(topic string, handler func([]byte)) error {
	b.mu.Lock()
	gate := b.gates[topic]
	b.mu.Unlock()
	if gate != nil {
		<-gate
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subscribeErr != nil {
		return b.subscribeErr
	}
	b.handlers[topic] = handler
	return nil
}

func (b *fakeBroker) Unsubscribe(topic string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, topic)
	b.unsubscribed = append(b.unsubscribed, topic)
	return nil
}

func (b *fakeBroker) deliver(topic, payload string) bool {
	b.mu.Lock()
	h, ok := b.handlers[topic]
	b.mu.Unlock()
	if ok {
		h([]byte(payload))
	}
	return ok
}

func (b *fakeBroker) last() message {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.published) == 0 {
		return message{}
	}
	return b.published[len(b.published)-1]
}

type fakeSession struct {
	mu       sync.Mutex
	power    string
	commands []string
}

func (s *fakeSession) Host() string { return "10.0.0.5" }

func (s *fakeSession) GetProperty(context.Context, escvp.Property) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.power, nil
}

func (s *fakeSession) GetSerialNumber(context.Context) (string, error) { return "X4ZK830", nil }

func (s *fakeSession) PowerOn(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands = append(s.commands, "on")
	s.power = escvp.PowerWarmUp
	return nil
}

func (s *fakeSession) PowerOff(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands = append(s.commands, "off")
	s.power = escvp.PowerCoolDown
	return nil
}

func (s *fakeSession) Close() error { return nil }

func TestTopics(t *testing.T) {
	a := assert.New(t)

	topics := Topics{Prefix: "home/projectors/"}
	a.Equal("home/projectors/status", topics.Status())
	a.Equal("home/projectors/entry-1/power", topics.Power("entry-1"))
	a.Equal("home/projectors/entry-1/set", topics.Set("entry-1"))

	a.Equal("entry-1/power", Topics{}.Power("entry-1"))
}

func TestApplyCommand(t *testing.T) {
	a := assert.New(t)
	ctx := context.Background()
	s := &fakeSession{}

	a.NoError(applyCommand(ctx, s, "ON"))
	a.NoError(applyCommand(ctx, s, " off\n"))
	a.ErrorIs(applyCommand(ctx, s, "TOGGLE"), ErrUnknownCommand)
	a.Equal([]string{"on", "off"}, s.commands)
}

func TestPlatformPublishesState(t *testing.T) {
	a := assert.New(t)

	broker := newFakeBroker()
	topics := Topics{Prefix: "epson"}
	p := NewPlatform(broker, topics)
	a.Equal(PlatformName, p.Name())

	entry := entries.Entry{ID: "entry-1", Domain: "epson", Title: "Lounge"}
	session := &fakeSession{power: "04"}
	require.NoError(t, p.SetupEntry(context.Background(), entry, session))

	a.Eventually(func() bool {
		return broker.last() == message{topic: "epson/entry-1/power", payload: "04", retained: true}
	}, time.Second, 10*time.Millisecond)

	require.True(t, broker.deliver("epson/entry-1/set", "ON"))
	a.Eventually(func() bool {
		return broker.last().payload == escvp.PowerWarmUp
	}, time.Second, 10*time.Millisecond, "state is republished after a command")

	ok, err := p.UnloadEntry(context.Background(), entry)
	a.NoError(err)
	a.True(ok)
	a.Equal([]string{"epson/entry-1/set"}, broker.unsubscribed)
	a.Equal(message{topic: "epson/entry-1/power", payload: escvp.StateUnavailable, retained: true}, broker.last())
	a.False(broker.deliver("epson/entry-1/set", "OFF"))

	ok, err = p.UnloadEntry(context.Background(), entry)
	a.NoError(err)
	a.True(ok)
}

func TestPlatformSubscribeFailure(t *testing.T) {
	a := assert.New(t)

	broker := newFakeBroker()
	broker.subscribeErr = errors.New("not authorised")
	p := NewPlatform(broker, Topics{Prefix: "epson"})

	entry := entries.Entry{ID: "entry-1"}
	a.Error(p.SetupEntry(context.Background(), entry, &fakeSession{}))

	ok, err := p.UnloadEntry(context.Background(), entry)
	a.NoError(err)
	a.True(ok)
	a.Empty(broker.unsubscribed)
}

func TestPlatformRejectsDuplicateSetup(t *testing.T) {
	p := NewPlatform(newFakeBroker(), Topics{Prefix: "epson"})
	entry := entries.Entry{ID: "entry-1"}

	require.NoError(t, p.SetupEntry(context.Background(), entry, &fakeSession{}))
	assert.Error(t, p.SetupEntry(context.Background(), entry, &fakeSession{}))

	ok, err := p.UnloadEntry(context.Background(), entry)
	assert.NoError(t, err)
	assert.True(t, ok)
}

func TestPlatformUnloadNotBlockedBySetup(t *testing.T) {
	a := assert.New(t)

	gate := make(chan struct{})
	broker := newFakeBroker()
	broker.gates = map[string]chan struct{}{"epson/entry-2/set": gate}
	p := NewPlatform(broker, Topics{Prefix: "epson"})

	first := entries.Entry{ID: "entry-1"}
	require.NoError(t, p.SetupEntry(context.Background(), first, &fakeSession{power: escvp.PowerOn}))

	second := entries.Entry{ID: "entry-2"}
	setupDone := make(chan error, 1)
	go func() {
		setupDone <- p.SetupEntry(context.Background(), second, &fakeSession{power: escvp.PowerOn})
	}()

	// Give the second setup time to reach the blocked subscription.
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	ok, err := p.UnloadEntry(ctx, first)
	a.NoError(err)
	a.True(ok)

	close(gate)
	select {
	case err := <-setupDone:
		a.NoError(err)
	case <-time.After(time.Second):
		t.Fatal("second setup did not finish")
	}

	a.True(broker.deliver("epson/entry-2/set", "OFF"))

	ok, err = p.UnloadEntry(context.Background(), second)
	a.NoError(err)
	a.True(ok)
}
