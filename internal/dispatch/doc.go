// Package dispatch assigns pending commits to runners.
//
// An attempt for one commit walks the registry in registration order and
// offers the commit to each runner with `runtest:<commit_id>` on a fresh,
// time-bounded connection. The first runner that answers OK owns the commit.
// When a full pass finds no taker the attempt sleeps for the configured
// backoff and starts over; it ends only when the commit is dispatched, stops
// being pending, or the context is cancelled.
//
// Policy:
//   - first acceptor wins; runners carry no load information, so there is
//     no "least busy" selection
//   - at most one attempt per commit id is in flight; Dispatch returns false
//     for a duplicate request instead of starting a second probe sequence
//   - a runner that times out or refuses the connection is skipped for the
//     current pass only; eviction is the heartbeat monitor's job
package dispatch
