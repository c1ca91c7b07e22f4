// Package refresh schedules the proactive renewal of an access token.
//
// # Timing
//
// A [Scheduler] arms a single timer for exp minus the lead time (60s by
// default). Re-arming replaces the previous timer; a deadline already inside
// the lead window fires immediately. There is no retry: the callback runs once
// per Arm and decides what a failure means.
//
// # Architecture boundaries
//
// This package owns timer lifecycle only. It does NOT perform the exchange,
// touch the session, or know about HTTP. Time is injected through [Clock];
// [ManualClock] drives schedules deterministically.
//
// # What this package must NOT do
//
//   - Import authclient, session, or middleware.
//   - Invoke the callback while holding its lock.
package refresh
