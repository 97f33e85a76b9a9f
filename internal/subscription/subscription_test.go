package subscription

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"newsbot/internal/model"
	"newsbot/internal/storage"
	logx "newsbot/pkg/logx"
)

type fixture struct {
	svc   *Service
	store storage.Store
	clock *clockwork.FakeClock
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	st, err := storage.Open(storage.Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "subs.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	clock := clockwork.NewFakeClockAt(time.Date(2025, 2, 1, 12, 0, 0, 0, time.UTC))
	n := 0
	svc := New(st, Config{TokenTTL: 10 * time.Minute}, clock, WithTokenSource(func() string {
		n++
		return fmt.Sprintf("tok-%d", n)
	}))
	return fixture{svc: svc, store: st, clock: clock}
}

func TestSubscribeConfirmIsSingleUse(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Subscribe(ctx, Request{RecipientID: 42, ChatType: "private"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != OutcomeCreated || res.Token != "tok-1" {
		t.Fatalf("subscribe: %+v", res)
	}
	if _, st, _ := f.svc.Status(ctx, 42); st != model.StatePending {
		t.Fatalf("state=%s want pending", st)
	}

	res, err = f.svc.Confirm(ctx, 42, "tok-1")
	if err != nil || res.Outcome != OutcomeConfirmed {
		t.Fatalf("confirm: %+v err=%v", res, err)
	}
	if res.Subscription.ConfirmToken != "" || res.Subscription.ConfirmedAt.IsZero() {
		t.Fatalf("token not cleared: %+v", res.Subscription)
	}

	res, err = f.svc.Confirm(ctx, 42, "tok-1")
	if err != nil || res.Outcome != OutcomeAlreadyActive {
		t.Fatalf("second confirm: %+v err=%v", res, err)
	}
}

func TestConfirmRejectsExpiredAndMismatched(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Subscribe(ctx, Request{RecipientID: 7}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Confirm(ctx, 7, "nope"); !errors.Is(err, ErrTokenMismatch) {
		t.Fatalf("err=%v want mismatch", err)
	}

	f.clock.Advance(10 * time.Minute)
	if _, err := f.svc.Confirm(ctx, 7, "tok-1"); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("err=%v want expired", err)
	}
	sub, st, _ := f.svc.Status(ctx, 7)
	if st != model.StateExpired || sub.Confirmed {
		t.Fatalf("rejected confirm changed the row: %s %+v", st, sub)
	}

	res, err := f.svc.Subscribe(ctx, Request{RecipientID: 7})
	if err != nil || res.Outcome != OutcomeReissued || res.Token != "tok-2" {
		t.Fatalf("reissue: %+v err=%v", res, err)
	}
	if _, err := f.svc.Confirm(ctx, 7, "tok-1"); !errors.Is(err, ErrTokenMismatch) {
		t.Fatalf("old token must be invalid, err=%v", err)
	}
	if res, err := f.svc.Confirm(ctx, 7, "tok-2"); err != nil || res.Outcome != OutcomeConfirmed {
		t.Fatalf("confirm new token: %+v err=%v", res, err)
	}
}

func TestReissueInvalidatesPendingToken(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	_, _ = f.svc.Subscribe(ctx, Request{RecipientID: 5})
	f.clock.Advance(time.Minute)
	res, err := f.svc.Subscribe(ctx, Request{RecipientID: 5})
	if err != nil || res.Outcome != OutcomeReissued {
		t.Fatalf("%+v err=%v", res, err)
	}
	if !res.ExpiresAt.Equal(f.clock.Now().Add(10 * time.Minute)) {
		t.Fatalf("expiry not refreshed: %v", res.ExpiresAt)
	}
	if _, err := f.svc.Confirm(ctx, 5, "tok-1"); !errors.Is(err, ErrTokenMismatch) {
		t.Fatalf("err=%v", err)
	}
}

func TestActiveSubscribeIsNoopButUpdatesFilter(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	_, _ = f.svc.Subscribe(ctx, Request{RecipientID: 9})
	_, _ = f.svc.Confirm(ctx, 9, "tok-1")

	res, err := f.svc.Subscribe(ctx, Request{RecipientID: 9})
	if err != nil || res.Outcome != OutcomeAlreadyActive || res.Token != "" {
		t.Fatalf("%+v err=%v", res, err)
	}

	filter := model.NewFilter("reuters")
	res, err = f.svc.Subscribe(ctx, Request{RecipientID: 9, Filter: &filter})
	if err != nil || res.Outcome != OutcomeAlreadyActive {
		t.Fatalf("%+v err=%v", res, err)
	}
	if !res.Subscription.Confirmed || res.Subscription.Filter.String() != "reuters" {
		t.Fatalf("filter not applied: %+v", res.Subscription)
	}
}

func TestUnsubscribeAndResubscribe(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Unsubscribe(ctx, 11); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err=%v", err)
	}
	_, _ = f.svc.Subscribe(ctx, Request{RecipientID: 11})
	_, _ = f.svc.Confirm(ctx, 11, "tok-1")

	res, err := f.svc.Unsubscribe(ctx, 11)
	if err != nil || res.Outcome != OutcomeCancelled || res.Subscription.Enabled {
		t.Fatalf("%+v err=%v", res, err)
	}
	if res.Subscription.DisabledReason != ReasonUnsubscribed {
		t.Fatalf("reason=%q", res.Subscription.DisabledReason)
	}
	if res, _ := f.svc.Unsubscribe(ctx, 11); res.Outcome != OutcomeAlreadyCancelled {
		t.Fatalf("outcome=%s", res.Outcome)
	}
	if _, err := f.svc.Confirm(ctx, 11, "tok-1"); !errors.Is(err, ErrNotPending) {
		t.Fatalf("err=%v", err)
	}

	res, err = f.svc.Subscribe(ctx, Request{RecipientID: 11})
	if err != nil || res.Outcome != OutcomeResubscribed || res.Token != "tok-2" {
		t.Fatalf("%+v err=%v", res, err)
	}
	if _, st, _ := f.svc.Status(ctx, 11); st != model.StatePending {
		t.Fatalf("state=%s", st)
	}
	subs, err := f.store.ListSubscriptions(ctx, 0)
	if err != nil || len(subs) != 1 {
		t.Fatalf("rows=%d err=%v, rows must never be duplicated or deleted", len(subs), err)
	}
}

func TestStatusUnknownAndInvalid(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	if _, st, err := f.svc.Status(ctx, 123); err != nil || st != model.StateNone {
		t.Fatalf("state=%s err=%v", st, err)
	}
	if _, err := f.svc.Subscribe(ctx, Request{}); !errors.Is(err, ErrInvalidRecipient) {
		t.Fatalf("err=%v", err)
	}
}
