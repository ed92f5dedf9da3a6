// Package scheduler triggers named jobs on cron or interval schedules.
//
// Jobs run on the cron goroutine with a per-run timeout. A trigger that fires
// while the previous run of the same schedule is still in flight is skipped.
package scheduler
