package app

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "spclaim/pkg/logx"
)

// sdNotifier reports lifecycle state to systemd. Every call is a no-op when
// NOTIFY_SOCKET is not set.
type sdNotifier struct {
	log     logx.Logger
	enabled atomic.Bool

	// send is daemon.SdNotify; replaced in tests.
	send func(unsetEnvironment bool, state string) (bool, error)
}

func newSdNotifier(enabled bool, log logx.Logger) *sdNotifier {
	n := &sdNotifier{log: log, send: daemon.SdNotify}
	n.enabled.Store(enabled)
	return n
}

func (n *sdNotifier) SetEnabled(v bool) { n.enabled.Store(v) }

func (n *sdNotifier) notify(state string) {
	if !n.enabled.Load() {
		return
	}
	sent, err := n.send(false, state)
	if err != nil {
		n.log.Warn("systemd notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		n.log.Trace("systemd notified", logx.String("state", state))
	}
}

func (n *sdNotifier) Ready()    { n.notify(daemon.SdNotifyReady) }
func (n *sdNotifier) Reloaded() { n.notify("STATUS=config reloaded") }
func (n *sdNotifier) Stopping() { n.notify(daemon.SdNotifyStopping) }

func (n *sdNotifier) Status(s string) { n.notify("STATUS=" + s) }

// watchdog pings systemd at half the configured WatchdogSec until ctx is
// done. It returns immediately when the unit has no watchdog.
func (n *sdNotifier) watchdog(ctx context.Context) {
	every, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		n.log.Warn("systemd watchdog check failed", logx.Err(err))
		return
	}
	if every <= 0 {
		return
	}
	every /= 2
	n.log.Debug("systemd watchdog enabled", logx.Duration("every", every))
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n.notify(daemon.SdNotifyWatchdog)
		}
	}
}
