// Package scheduler turns schedule strings into triggers.
//
// It owns a robfig/cron runner bound to a timezone and is responsible only for:
//   - parsing and registering schedules (upsert by name)
//   - computing fire times
//   - enqueueing a task into the execution engine on every fire
//
// Execution, overlap handling and retries belong to internal/task/engine.
package scheduler
