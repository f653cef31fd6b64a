// Package workflow drains the work queue through the artifact executor.
//
// The Manager owns enqueue (with deduplication), the bounded Tick pass, and
// the operator actions over queue state: retry, clear, stale recovery and
// retention. A tick is guarded by the lock record "queue:tick" whose timeout
// equals the tick's time budget, so overlapping ticks from the daemon and the
// CLI never claim the same items. Each claimed item is dispatched by action:
// generate and regenerate call Generate, delete calls Delete, and custom
// actions run the CustomHandler registered under payload["handler"].
//
// The Scheduler runs the periodic jobs (tick, stale recovery, lock cleanup,
// retention) with panic recovery so a failing job never stops the others.
package workflow
