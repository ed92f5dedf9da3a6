package adapter

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"outagebot/internal/outage"
	kit "outagebot/internal/transport"
	logx "outagebot/pkg/logx"
)

var _ outage.Sender = (*Adapter)(nil)

// pacer throttles outgoing subscriber messages across all fanout workers.
type pacer struct {
	mu  sync.Mutex
	lim *rate.Limiter
}

func newPacer(perSec float64) *pacer {
	return &pacer{lim: rate.NewLimiter(rate.Limit(perSec), 1)}
}

func (p *pacer) setRate(perSec float64) {
	p.mu.Lock()
	p.lim.SetLimit(rate.Limit(perSec))
	p.mu.Unlock()
}

func (p *pacer) wait(ctx context.Context) error {
	p.mu.Lock()
	lim := p.lim
	p.mu.Unlock()
	return lim.Wait(ctx)
}

// Send delivers one composed message to a subscriber chat. Permanently
// unreachable chats are reported as outage.ErrTargetInvalid; a flood-wait
// is retried once when it fits the send timeout.
func (a *Adapter) Send(ctx context.Context, to outage.Target, msg outage.Message, silent bool) (outage.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.SendTimeout)
	defer cancel()

	opt := &kit.SendOptions{
		ParseMode:           string(msg.Dialect),
		DisablePreview:      true,
		DisableNotification: silent,
	}
	target := kit.ChatTarget{ChatID: to.ChatID}

	for attempt := 0; ; attempt++ {
		if err := a.pacer.wait(ctx); err != nil {
			return outage.Receipt{}, outage.SendFailure(err)
		}
		ref, err := a.SendText(ctx, target, msg.Body, opt)
		if err == nil {
			return outage.Receipt{MessageID: ref.MessageID, SentAt: time.Now()}, nil
		}
		wait, flood := floodWait(err)
		if !flood || attempt > 0 || !fitsDeadline(ctx, wait) {
			return outage.Receipt{}, classifySendError(err)
		}
		a.log.Warn("telegram flood wait", logx.Int64("chat_id", to.ChatID), logx.Duration("retry_after", wait))
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return outage.Receipt{}, outage.SendFailure(ctx.Err())
		case <-t.C:
		}
	}
}

// invalidTargetErrors are Bot API answers after which a chat will never
// accept messages from the bot again.
var invalidTargetErrors = []error{
	tele.ErrBlockedByUser,
	tele.ErrUserIsDeactivated,
	tele.ErrChatNotFound,
	tele.ErrKickedFromGroup,
	tele.ErrKickedFromSuperGroup,
	tele.ErrNotStartedByUser,
}

func classifySendError(err error) error {
	if err == nil {
		return nil
	}
	for _, e := range invalidTargetErrors {
		if errors.Is(err, e) {
			return outage.TargetInvalid(err)
		}
	}
	var te *tele.Error
	if errors.As(err, &te) && te.Code == 403 {
		return outage.TargetInvalid(err)
	}
	// unknown 403 descriptions come back as plain errors
	if strings.Contains(err.Error(), "Forbidden: ") {
		return outage.TargetInvalid(err)
	}
	return outage.SendFailure(err)
}

func floodWait(err error) (time.Duration, bool) {
	var fe tele.FloodError
	if errors.As(err, &fe) {
		return time.Duration(fe.RetryAfter) * time.Second, true
	}
	return 0, false
}

func fitsDeadline(ctx context.Context, wait time.Duration) bool {
	dl, ok := ctx.Deadline()
	return !ok || time.Until(dl) > wait
}
