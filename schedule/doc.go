// Package schedule triggers recurring job submission.
//
// It is trigger-only: every cron fire enqueues a job into the dispatch
// engine, which owns execution. Overlap control falls out of the engine's
// bounded intake queue, so a schedule that fires faster than its jobs drain
// sheds load instead of piling up goroutines.
package schedule
