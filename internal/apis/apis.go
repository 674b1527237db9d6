// Package apis wraps the session-bus calls gifcast makes to desktop services.
package apis

import (
	"context"
	"fmt"

	"github.com/godbus/dbus/v5"
)

const (
	PortalName        = "org.freedesktop.portal.Desktop"
	PortalPath        = "/org/freedesktop/portal/desktop"
	PortalBaseName    = "org.freedesktop.portal"
	PropertiesGetName = "org.freedesktop.DBus.Properties.Get"

	NotificationsName = "org.freedesktop.Notifications"
	NotificationsPath = "/org/freedesktop/Notifications"
)

// Bus is the part of a D-Bus connection the helpers need. *dbus.Conn
// satisfies it.
type Bus interface {
	Object(dest string, path dbus.ObjectPath) dbus.BusObject
}

// SessionBus returns the shared session bus connection.
func SessionBus() (Bus, error) {
	conn, err := dbus.SessionBus()
	if err != nil {
		return nil, fmt.Errorf("connect session bus: %w", err)
	}
	return conn, nil
}

// Call invokes method on dest at path and returns the finished call.
func Call(ctx context.Context, bus Bus, dest string, path dbus.ObjectPath, method string, args ...any) (*dbus.Call, error) {
	obj := bus.Object(dest, path)
	call := obj.CallWithContext(ctx, method, 0, args...)
	if call.Err != nil {
		return nil, fmt.Errorf("%s: %w", method, call.Err)
	}
	return call, nil
}

// GetProperty reads iface.property from dest at path.
func GetProperty(ctx context.Context, bus Bus, dest string, path dbus.ObjectPath, iface, property string) (any, error) {
	call, err := Call(ctx, bus, dest, path, PropertiesGetName, iface, property)
	if err != nil {
		return nil, err
	}

	var value dbus.Variant
	if err := call.Store(&value); err != nil {
		return nil, fmt.Errorf("read %s.%s: %w", iface, property, err)
	}
	return value.Value(), nil
}

// Uint32Property reads a property that must hold a uint32.
func Uint32Property(ctx context.Context, bus Bus, dest string, path dbus.ObjectPath, iface, property string) (uint32, error) {
	value, err := GetProperty(ctx, bus, dest, path, iface, property)
	if err != nil {
		return 0, err
	}

	result, ok := value.(uint32)
	if !ok {
		return 0, fmt.Errorf("property %s returned unexpected type %T", property, value)
	}
	return result, nil
}
