// Package messengertest provides an in-memory messenger.Client for tests.
package messengertest

import (
	"context"
	"errors"
	"sync"

	"dmrelay/internal/messenger"
	"dmrelay/internal/model"
)

type SentMessage struct {
	To   messenger.Recipient
	Text string
}

// Fake is a scriptable messenger.Client. Connect pops ConnectErrs in order
// and succeeds once they run out; Run blocks until Drop or cancellation.
type Fake struct {
	// DisconnectErr is returned by every Disconnect call.
	DisconnectErr error

	mu          sync.Mutex
	connectErrs []error
	resolveErrs []error
	sendErrs    []error
	handler     messenger.EventHandler
	connected   bool
	sent        []SentMessage
	connects    int
	resolves    int
	disconnects int

	drops   chan error
	running chan struct{}
}

func NewFake() *Fake {
	return &Fake{
		drops:   make(chan error, 1),
		running: make(chan struct{}, 16),
	}
}

// FailConnect queues errors returned by the next Connect calls.
func (f *Fake) FailConnect(errs ...error) {
	f.mu.Lock()
	f.connectErrs = append(f.connectErrs, errs...)
	f.mu.Unlock()
}

// FailResolve queues errors returned by the next ResolveRecipient calls.
func (f *Fake) FailResolve(errs ...error) {
	f.mu.Lock()
	f.resolveErrs = append(f.resolveErrs, errs...)
	f.mu.Unlock()
}

// FailSend queues errors returned by the next Send calls.
func (f *Fake) FailSend(errs ...error) {
	f.mu.Lock()
	f.sendErrs = append(f.sendErrs, errs...)
	f.mu.Unlock()
}

func pop(errs *[]error) error {
	if len(*errs) == 0 {
		return nil
	}
	err := (*errs)[0]
	*errs = (*errs)[1:]
	return err
}

func (f *Fake) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if err := pop(&f.connectErrs); err != nil {
		return err
	}
	f.connected = true
	return nil
}

func (f *Fake) ResolveRecipient(ctx context.Context, handle string) (messenger.Recipient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolves++
	if err := pop(&f.resolveErrs); err != nil {
		return messenger.Recipient{}, err
	}
	return messenger.Recipient{Handle: handle, Address: "outbound." + handle}, nil
}

func (f *Fake) Subscribe(handler messenger.EventHandler) {
	f.mu.Lock()
	f.handler = handler
	f.mu.Unlock()
}

func (f *Fake) Run(ctx context.Context) error {
	f.running <- struct{}{}
	select {
	case <-ctx.Done():
		return nil
	case err := <-f.drops:
		f.mu.Lock()
		f.connected = false
		f.mu.Unlock()
		return err
	}
}

func (f *Fake) Send(ctx context.Context, to messenger.Recipient, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := pop(&f.sendErrs); err != nil {
		return err
	}
	f.sent = append(f.sent, SentMessage{To: to, Text: text})
	return nil
}

func (f *Fake) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	f.connected = false
	return f.DisconnectErr
}

func (f *Fake) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

// Drop makes the active Run return err, which defaults to ErrDisconnected.
func (f *Fake) Drop(err error) {
	if err == nil {
		err = messenger.ErrDisconnected
	}
	f.drops <- err
}

// Running receives a value each time Run starts.
func (f *Fake) Running() <-chan struct{} {
	return f.running
}

// Deliver passes msg to the subscribed handler.
func (f *Fake) Deliver(ctx context.Context, msg model.IncomingMessage) error {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	if h == nil {
		return errors.New("messengertest: no handler subscribed")
	}
	return h(ctx, msg)
}

// Sent returns a copy of the messages sent so far.
func (f *Fake) Sent() []SentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SentMessage(nil), f.sent...)
}

func (f *Fake) Stats() (connects, resolves, disconnects int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects, f.resolves, f.disconnects
}
