// Package scheduler runs file transfers and harvesting jobs on a fixed-size
// worker pool.
//
// # Usage
//
//	s := scheduler.New(scheduler.Options{Workers: 5})
//	defer s.Shutdown(ctx)
//
//	err := s.Submit(job) // never blocks
//
// # Ordering
//
// Jobs run in submission order. With Options.PriorityOrder, jobs
// implementing [Prioritized] run highest priority first instead.
//
// # Failures
//
// Jobs own their failures. A panicking job is logged and its worker moves on
// to the next job.
package scheduler
