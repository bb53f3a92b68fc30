package notify

import "errors"

// ErrNotificationFailed is returned when the calendar invitation could not be delivered.
var ErrNotificationFailed = errors.New("notify: notification failed")
