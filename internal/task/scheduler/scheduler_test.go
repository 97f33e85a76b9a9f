package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	logx "newsbot/pkg/logx"
)

func TestParseSchedule(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in      string
		kind    SpecKind
		every   time.Duration
		cron    string
		wantErr bool
	}{
		{in: "@hourly", kind: SpecCron, cron: "@hourly"},
		{in: "*/5 * * * *", kind: SpecCron, cron: "*/5 * * * *"},
		{in: "cron:0 * * * *", kind: SpecCron, cron: "0 * * * *"},
		{in: "55m", kind: SpecInterval, every: 55 * time.Minute},
		{in: "01:30", kind: SpecInterval, every: 90 * time.Minute},
		{in: "every:2h", kind: SpecInterval, every: 2 * time.Hour},
		{in: "interval:00:05", kind: SpecInterval, every: 5 * time.Minute},
		{in: "", wantErr: true},
		{in: "cron:", wantErr: true},
		{in: "00:00", wantErr: true},
		{in: "01:75", wantErr: true},
		{in: "-5m", wantErr: true},
		{in: "soon", wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := ParseSchedule(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Kind != tt.kind || got.Every != tt.every || got.Cron != tt.cron {
				t.Fatalf("got %+v", got)
			}
		})
	}
}

func TestAddScheduleRejectsBadCron(t *testing.T) {
	t.Parallel()
	s := New(Config{}, nil, logx.Nop())
	if err := s.AddSchedule("bad", "61 * * * *", 0, func(context.Context) error { return nil }); err == nil {
		t.Fatalf("expected error for invalid cron")
	}
	if err := s.AddSchedule("ok", "@every 1m", 0, func(context.Context) error { return nil }); err != nil {
		t.Fatal(err)
	}
	if n := len(s.Snapshot().Schedules); n != 1 {
		t.Fatalf("schedules=%d want 1", n)
	}
}

func TestRunNowSkipsOverlap(t *testing.T) {
	t.Parallel()
	s := New(Config{}, nil, logx.Nop())
	started := make(chan struct{})
	release := make(chan struct{})
	err := s.AddSchedule("broadcast.pass", "55m", time.Minute, func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	first := make(chan error, 1)
	go func() { first <- s.RunNow(context.Background(), "broadcast.pass") }()
	<-started

	if err := s.RunNow(context.Background(), "broadcast.pass"); !errors.Is(err, ErrOverlapSkip) {
		t.Fatalf("err=%v want ErrOverlapSkip", err)
	}
	close(release)
	if err := <-first; err != nil {
		t.Fatalf("first run: %v", err)
	}

	info := s.Snapshot().Schedules[0]
	if info.Runs != 1 || info.Skips != 1 || info.Running {
		t.Fatalf("snapshot: %+v", info)
	}
}

func TestRunNowRecordsFailureAndPanic(t *testing.T) {
	t.Parallel()
	s := New(Config{}, nil, logx.Nop())
	_ = s.AddSchedule("fails", "1h", 0, func(context.Context) error { return errors.New("boom") })
	_ = s.AddSchedule("panics", "1h", 0, func(context.Context) error { panic("oops") })

	if err := s.RunNow(context.Background(), "fails"); err == nil || err.Error() != "boom" {
		t.Fatalf("err=%v", err)
	}
	if err := s.RunNow(context.Background(), "panics"); err == nil {
		t.Fatalf("panic not reported")
	}
	if err := s.RunNow(context.Background(), "missing"); !errors.Is(err, ErrUnknownJob) {
		t.Fatalf("err=%v want ErrUnknownJob", err)
	}
	for _, it := range s.Snapshot().Schedules {
		if it.Fails != 1 || it.LastErr == "" {
			t.Fatalf("%s: %+v", it.Name, it)
		}
	}
}

func TestTimeoutApplied(t *testing.T) {
	t.Parallel()
	s := New(Config{}, nil, logx.Nop())
	_ = s.AddSchedule("slow", "1h", 10*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if err := s.RunNow(context.Background(), "slow"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err=%v", err)
	}
}

func TestRemoveAndStartStop(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Timezone: "UTC"}, nil, logx.Nop())
	_ = s.AddSchedule("a", "@hourly", 0, func(context.Context) error { return nil })
	s.Start(context.Background())
	if snap := s.Snapshot(); !snap.Running || snap.Schedules[0].Next.IsZero() {
		t.Fatalf("snapshot after start: %+v", snap)
	}
	if !s.Remove("a") || s.Remove("a") {
		t.Fatalf("remove should succeed once")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
	if s.Snapshot().Running {
		t.Fatalf("still running after stop")
	}
}
