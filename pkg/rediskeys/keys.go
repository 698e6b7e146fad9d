package rediskeys

import "fmt"

// CallSessionKey is the active call marker for a caller.
func CallSessionKey(callerID string) string {
	return fmt.Sprintf("call_session:%s", callerID)
}

// NotificationPresenceKey records the last activity of a notification client.
func NotificationPresenceKey(userID string) string {
	return fmt.Sprintf("presence:notifications:%s", userID)
}
