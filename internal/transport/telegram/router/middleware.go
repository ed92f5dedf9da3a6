package router

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"outagebot/internal/storage"
	kit "outagebot/internal/transport"
	logx "outagebot/pkg/logx"
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Middleware func(next HandlerFunc) HandlerFunc

func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

func MWTimeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
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
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				if r := recover(); r != nil {
					logger := log
					if req != nil && !req.Logger.IsZero() {
						logger = req.Logger
					}
					logger.Error("panic recovered",
						logx.Any("panic", r),
						logx.String("stack", string(debug.Stack())),
					)
					err = fmt.Errorf("panic: %v", r)
				}
			}()
			return next(ctx, req)
		}
	}
}

func MWRequestLog(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			logger := log
			if !req.Logger.IsZero() {
				logger = req.Logger
			}
			err := next(ctx, req)
			d := time.Since(start)

			fields := []logx.Field{
				logx.String("kind", string(req.Update.Kind)),
				logx.Int64("chat_id", req.Chat.ChatID),
				logx.Int64("from_id", req.From.ID),
				logx.String("cmd", req.Command),
				logx.Duration("dur", d),
			}
			if err != nil {
				logger.Warn("request failed", append(fields, logx.Err(err))...)
			} else if d >= 750*time.Millisecond {
				// keep INFO useful: short successful requests go to DEBUG
				logger.Info("request ok", fields...)
			} else {
				logger.Debug("request ok", fields...)
			}
			return err
		}
	}
}

// MWRegister records the sender and the chat of every inbound message before
// the handler runs. A failed registration is logged and does not block the
// handler.
func MWRegister(users UserStore) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			msg := req.Update.Message
			if msg == nil || msg.From.ID == 0 {
				return next(ctx, req)
			}
			if err := register(ctx, users, msg); err != nil {
				req.Logger.Warn("register sender failed", logx.Err(err))
			}
			return next(ctx, req)
		}
	}
}

func register(ctx context.Context, users UserStore, msg *kit.Message) error {
	err := users.UpsertUser(ctx, storage.User{
		UniqueID:  msg.From.ID,
		Username:  msg.From.Username,
		IsBot:     msg.From.IsBot,
		IsPremium: msg.From.IsPremium,
	})
	if err != nil {
		return err
	}
	return users.UpsertChat(ctx, storage.Chat{
		UniqueID: msg.Chat.ID,
		UserID:   msg.From.ID,
		Username: msg.Chat.Username,
		Type:     msg.Chat.Type,
	})
}
