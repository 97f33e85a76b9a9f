// Package gatewaytest provides a scriptable in-memory Gateway.
package gatewaytest

import (
	"context"
	"sync"

	"newsbot/internal/gateway"
)

type Sent struct {
	RecipientID int64
	Text        string
}

// Fake records every send. Per-recipient scripts return queued errors first;
// once a script is drained the send succeeds.
type Fake struct {
	mu      sync.Mutex
	sent    []Sent
	calls   map[int64]int
	scripts map[int64][]error
	always  map[int64]error
	pingErr error
}

func New() *Fake {
	return &Fake{
		calls:   map[int64]int{},
		scripts: map[int64][]error{},
		always:  map[int64]error{},
	}
}

// FailNext queues errors for the next sends to recipient.
func (f *Fake) FailNext(recipient int64, errs ...error) {
	f.mu.Lock()
	f.scripts[recipient] = append(f.scripts[recipient], errs...)
	f.mu.Unlock()
}

// FailAlways makes every send to recipient fail with err (nil clears it).
func (f *Fake) FailAlways(recipient int64, err error) {
	f.mu.Lock()
	if err == nil {
		delete(f.always, recipient)
	} else {
		f.always[recipient] = err
	}
	f.mu.Unlock()
}

func (f *Fake) SetPingError(err error) {
	f.mu.Lock()
	f.pingErr = err
	f.mu.Unlock()
}

func (f *Fake) SendMessage(ctx context.Context, recipientID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[recipientID]++
	if q := f.scripts[recipientID]; len(q) > 0 {
		f.scripts[recipientID] = q[1:]
		if q[0] != nil {
			return gateway.Classify(q[0])
		}
	} else if err := f.always[recipientID]; err != nil {
		return gateway.Classify(err)
	}
	f.sent = append(f.sent, Sent{RecipientID: recipientID, Text: text})
	return nil
}

func (f *Fake) Ping(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pingErr
}

// Sent returns successful sends in order.
func (f *Fake) Sent() []Sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Sent(nil), f.sent...)
}

// SentTo counts successful sends to recipient.
func (f *Fake) SentTo(recipient int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.sent {
		if s.RecipientID == recipient {
			n++
		}
	}
	return n
}

// Calls counts every send attempt to recipient, failed or not.
func (f *Fake) Calls(recipient int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[recipient]
}
