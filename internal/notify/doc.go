// Package notify implements the Notification Feed.
//
// The feed loads the user's notifications, prepends pushed notification
// events, and falls back to polling while the push connection is down.
// Marking as read is optimistic: the local flag flips immediately and each
// item carries a read state (committed, pending or failed) so a rejected
// request rolls back instead of leaving the list out of step with the
// server.
package notify
