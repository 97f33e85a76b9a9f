// Package scheduler triggers named jobs on cron or interval schedules.
//
// A schedule never overlaps itself: a trigger that fires while the previous
// run of the same schedule is still active is skipped and counted.
package scheduler
