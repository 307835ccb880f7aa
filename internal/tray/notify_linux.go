//go:build linux

package tray

import (
	"context"
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"
)

const (
	notifyDest   = "org.freedesktop.Notifications"
	notifyPath   = dbus.ObjectPath("/org/freedesktop/Notifications")
	notifyMethod = notifyDest + ".Notify"
	notifyExpire = int32(5000)
)

// DBusNotifier sends notifications through the session bus. Each new
// notification replaces the previous one.
type DBusNotifier struct {
	conn *dbus.Conn
	obj  dbus.BusObject

	mu     sync.Mutex
	lastID uint32
}

// NewDBusNotifier opens a private session bus connection.
func NewDBusNotifier() (*DBusNotifier, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("session bus: %w", err)
	}
	return &DBusNotifier{conn: conn, obj: conn.Object(notifyDest, notifyPath)}, nil
}

func (n *DBusNotifier) Notify(ctx context.Context, summary, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	call := n.obj.CallWithContext(ctx, notifyMethod, 0,
		"mpclip",                  // app_name
		n.lastID,                  // replaces_id
		"edit-paste",              // app_icon
		summary,                   // summary
		body,                      // body
		[]string{},                // actions
		map[string]dbus.Variant{}, // hints
		notifyExpire,              // expire_timeout
	)
	if call.Err != nil {
		return fmt.Errorf("notify: %w", call.Err)
	}
	return call.Store(&n.lastID)
}

// Close closes the bus connection.
func (n *DBusNotifier) Close() error { return n.conn.Close() }
