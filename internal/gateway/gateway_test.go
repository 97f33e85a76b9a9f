package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	tele "gopkg.in/telebot.v4"

	logx "newsbot/pkg/logx"
)

type fakeNetErr struct{}

func (fakeNetErr) Error() string   { return "dial tcp: i/o timeout" }
func (fakeNetErr) Timeout() bool   { return true }
func (fakeNetErr) Temporary() bool { return true }

var _ net.Error = fakeNetErr{}

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		err   error
		class Class
		after time.Duration
	}{
		{"flood", tele.FloodError{RetryAfter: 5}, ClassRateLimited, 5 * time.Second},
		{"blocked sentinel", tele.ErrBlockedByUser, ClassRecipientBlocked, 0},
		{"kicked", tele.ErrKickedFromGroup, ClassClientRejected, 0},
		{"deactivated", tele.ErrUserIsDeactivated, ClassClientRejected, 0},
		{"chat not found", tele.ErrChatNotFound, ClassClientRejected, 0},
		{"api 403 blocked", &tele.Error{Code: 403, Description: "Forbidden: bot was blocked by the user"}, ClassRecipientBlocked, 0},
		{"api 502", &tele.Error{Code: 502, Description: "Bad Gateway"}, ClassServer, 0},
		{"api 400 parse", &tele.Error{Code: 400, Description: "Bad Request: can't parse entities"}, ClassUnknown, 0},
		{"rendered 500", errors.New("telegram: Internal Server Error (500)"), ClassServer, 0},
		{"rendered 400 chat", errors.New("telegram: Bad Request: chat not found (400)"), ClassClientRejected, 0},
		{"rendered 429", fmt.Errorf("send: %w", errors.New("telegram: Too Many Requests (429)")), ClassRateLimited, 0},
		{"net", fakeNetErr{}, ClassTransient, 0},
		{"deadline", context.DeadlineExceeded, ClassTransient, 0},
		{"circuit", ErrCircuitOpen, ClassServer, 0},
		{"other", errors.New("mystery"), ClassUnknown, 0},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := Classify(tt.err)
			if f == nil {
				t.Fatalf("nil failure")
			}
			if f.Class != tt.class {
				t.Fatalf("class=%s want %s (%v)", f.Class, tt.class, f)
			}
			if f.RetryAfter != tt.after {
				t.Fatalf("retry_after=%v want %v", f.RetryAfter, tt.after)
			}
			if !errors.Is(f, tt.err) {
				t.Fatalf("failure must wrap original error")
			}
		})
	}
}

func TestClassifyPassThrough(t *testing.T) {
	t.Parallel()
	if Classify(nil) != nil {
		t.Fatalf("nil must stay nil")
	}
	orig := &Failure{Class: ClassServer, Code: 503}
	if got := Classify(fmt.Errorf("wrapped: %w", orig)); got != orig {
		t.Fatalf("existing failure not passed through")
	}
}

type flakyGateway struct {
	err   error
	calls int
}

func (g *flakyGateway) SendMessage(ctx context.Context, id int64, text string) error {
	g.calls++
	return g.err
}
func (g *flakyGateway) Ping(ctx context.Context) error { return g.err }

func TestBreakerOpensOnServerFailures(t *testing.T) {
	t.Parallel()
	next := &flakyGateway{err: &Failure{Class: ClassServer, Code: 502}}
	b := NewBreaker(next, BreakerConfig{ConsecutiveFailures: 2, OpenTimeout: time.Hour}, logx.Nop())
	ctx := context.Background()

	_ = b.SendMessage(ctx, 1, "a")
	_ = b.SendMessage(ctx, 1, "b")
	if !b.Open() {
		t.Fatalf("breaker should be open, state=%s", b.State())
	}
	err := b.SendMessage(ctx, 1, "c")
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err=%v", err)
	}
	if next.calls != 2 {
		t.Fatalf("open breaker must not call through, calls=%d", next.calls)
	}
}

func TestBreakerIgnoresRecipientFailures(t *testing.T) {
	t.Parallel()
	next := &flakyGateway{err: &Failure{Class: ClassRecipientBlocked, Code: 403}}
	b := NewBreaker(next, BreakerConfig{ConsecutiveFailures: 1}, logx.Nop())
	for i := 0; i < 5; i++ {
		_ = b.SendMessage(context.Background(), int64(i), "x")
	}
	if b.Open() {
		t.Fatalf("blocked recipients must not trip the breaker")
	}
}
