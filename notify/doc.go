// Package notify delivers transient user-facing notices (success, error,
// warning, info). The session client reports fault reactions through a
// [Notifier]; how a notice is shown is up to the front end.
package notify
