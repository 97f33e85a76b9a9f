package bot

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"

	"newsbot/internal/cache"
	logx "newsbot/pkg/logx"
)

var ErrCooldown = errors.New("bot: command cooldown")

type HandlerFunc func(ctx context.Context, req *Request) (Reply, error)

type Middleware func(next HandlerFunc) HandlerFunc

func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

func MWTimeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (Reply, error) {
			if d <= 0 {
				return next(ctx, req)
			}
			cctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(cctx, req)
		}
	}
}

func MWPanicRecover(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (rep Reply, err error) {
			defer func() {
				if r := recover(); r != nil {
					log.Error("panic recovered",
						logx.Any("panic", r),
						logx.String("cmd", req.Command),
						logx.String("stack", string(debug.Stack())),
					)
					rep, err = Reply{}, fmt.Errorf("panic: %v", r)
				}
			}()
			return next(ctx, req)
		}
	}
}

func MWRequestLog(log logx.Logger, clock clockwork.Clock) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (Reply, error) {
			start := clock.Now()
			rep, err := next(ctx, req)
			fields := []logx.Field{
				logx.Int64("chat_id", req.ChatID),
				logx.Int64("from_id", req.FromID),
				logx.String("cmd", req.Command),
				logx.Duration("dur", clock.Since(start)),
			}
			switch {
			case errors.Is(err, ErrCooldown):
				log.Debug("request throttled", fields...)
			case err != nil:
				log.Warn("request failed", append(fields, logx.Err(err))...)
			default:
				log.Debug("request ok", fields...)
			}
			return rep, err
		}
	}
}

// MWCooldown drops a command from a chat that sent the same command less than
// d ago. Entries expire on their own; the cache bounds memory.
func MWCooldown(c *cache.Cache[string, struct{}]) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (Reply, error) {
			if c == nil {
				return next(ctx, req)
			}
			key := strconv.FormatInt(req.ChatID, 10) + ":" + req.Command
			if _, hit := c.Get(key); hit {
				return Reply{}, ErrCooldown
			}
			c.Set(key, struct{}{})
			return next(ctx, req)
		}
	}
}
