package app

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "outagebot/pkg/logx"
)

// sdNotifier reports lifecycle states to systemd. Every call is a no-op when
// the process was not started with NOTIFY_SOCKET.
type sdNotifier struct {
	log      logx.Logger
	notify   func(state string) (bool, error)
	interval func() (time.Duration, error)
}

func newSdNotifier(log logx.Logger) *sdNotifier {
	return &sdNotifier{
		log:      log,
		notify:   func(state string) (bool, error) { return daemon.SdNotify(false, state) },
		interval: func() (time.Duration, error) { return daemon.SdWatchdogEnabled(false) },
	}
}

func (n *sdNotifier) send(state string) {
	sent, err := n.notify(state)
	switch {
	case err != nil:
		n.log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
	case sent:
		n.log.Debug("sd_notify", logx.String("state", state))
	}
}

func (n *sdNotifier) ready()    { n.send(daemon.SdNotifyReady) }
func (n *sdNotifier) stopping() { n.send(daemon.SdNotifyStopping) }
func (n *sdNotifier) reloading() { n.send(daemon.SdNotifyReloading) }

// watchdog pings systemd at half of WatchdogSec until ctx ends. It returns
// immediately when the unit has no watchdog.
func (n *sdNotifier) watchdog(ctx context.Context) error {
	every, err := n.interval()
	if err != nil {
		n.log.Warn("sd watchdog config invalid", logx.Err(err))
		return nil
	}
	if every <= 0 {
		return nil
	}
	t := time.NewTicker(every / 2)
	defer t.Stop()
	n.log.Debug("sd watchdog enabled", logx.Duration("interval", every))
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			n.send(daemon.SdNotifyWatchdog)
		}
	}
}
