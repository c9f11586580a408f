//go:build darwin

package notification

import (
	"fmt"
	"os/exec"
)

// darwinNotifier shells out to osascript, reaching Notification Center
// without a cgo dependency on UNUserNotificationCenter.
type darwinNotifier struct{}

func newPlatformNotifier() Notifier {
	return darwinNotifier{}
}

func (darwinNotifier) Show(title, body string) error {
	script := fmt.Sprintf("display notification %q with title %q", body, title)
	return exec.Command("osascript", "-e", script).Run()
}
