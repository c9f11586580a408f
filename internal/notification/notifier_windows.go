//go:build windows

package notification

import toast "git.sr.ht/~jackmordaunt/go-toast/v2"

type windowsNotifier struct {
	appID string
}

func newPlatformNotifier() Notifier {
	return &windowsNotifier{appID: "nmail"}
}

func (n *windowsNotifier) Show(title, body string) error {
	notification := toast.Notification{
		AppID:   n.appID,
		Title:   title,
		Message: body,
	}
	return notification.Push()
}
