//go:build linux

package notification

import "github.com/godbus/dbus/v5"

// linuxNotifier calls org.freedesktop.Notifications.Notify directly over
// the session bus.
type linuxNotifier struct{}

func newPlatformNotifier() Notifier {
	return linuxNotifier{}
}

func (linuxNotifier) Show(title, body string) error {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return err
	}
	defer conn.Close()

	obj := conn.Object("org.freedesktop.Notifications", dbus.ObjectPath("/org/freedesktop/Notifications"))
	call := obj.Call("org.freedesktop.Notifications.Notify", 0,
		"nmail",       // app_name
		uint32(0),     // replaces_id
		"",            // app_icon
		title,         // summary
		body,          // body
		[]string{},    // actions
		map[string]dbus.Variant{}, // hints
		int32(5000),   // expire_timeout (ms)
	)
	return call.Err
}
