// Package tasks runs long operations in the background and tracks their
// outcome.
//
// A Manager hands each task body its own goroutine and a ReportFunc. The
// first report moves the task from StatusRunning to StatusFinished or
// StatusFailed; later reports are ignored. A body that panics, calls
// runtime.Goexit, or returns without reporting is marked failed.
//
// Callers observe progress by id through Manager.Lookup, or block on a
// single task with Poll.
package tasks
