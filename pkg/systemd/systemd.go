// Package systemd reports service state to systemd through sd_notify.
// Outside a systemd unit (no NOTIFY_SOCKET) every call is a no-op.
package systemd

import (
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

// Notifier sends sd_notify states. The zero value is ready to use.
type Notifier struct {
	// send is swapped in tests.
	send func(state string) (bool, error)
}

func (n Notifier) notify(state string) (bool, error) {
	if n.send != nil {
		return n.send(state)
	}
	return daemon.SdNotify(false, state)
}

// Ready tells systemd startup finished. The bool reports whether a
// notification socket was present.
func (n Notifier) Ready() (bool, error) { return n.notify(daemon.SdNotifyReady) }

func (n Notifier) Stopping() (bool, error) { return n.notify(daemon.SdNotifyStopping) }

func (n Notifier) Reloading() (bool, error) { return n.notify(daemon.SdNotifyReloading) }

// Status sets the free-form status line shown by systemctl status.
func (n Notifier) Status(format string, args ...any) (bool, error) {
	return n.notify("STATUS=" + fmt.Sprintf(format, args...))
}

// WatchdogInterval returns the interval at which Ping must be called, or 0
// when the unit has no watchdog.
func WatchdogInterval() time.Duration {
	d, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		return 0
	}
	return d
}

func (n Notifier) Ping() (bool, error) { return n.notify(daemon.SdNotifyWatchdog) }
