//go:build !linux

package tray

import (
	"context"
	"errors"
)

// DBusNotifier is unavailable off Linux.
type DBusNotifier struct{}

func NewDBusNotifier() (*DBusNotifier, error) {
	return nil, errors.New("desktop notifications are only supported on linux")
}

func (*DBusNotifier) Notify(context.Context, string, string) error { return nil }

func (*DBusNotifier) Close() error { return nil }
