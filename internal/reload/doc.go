// Package reload defines the side effect the watcher performs when it has
// detected a change, and the ways that effect can be delivered.
//
// A Trigger is fire-and-forget. Implementations report their own failures
// through the logger and never retry; the next detected change is the next
// attempt.
//
// Available triggers:
//
//   - Func adapts a plain function.
//   - Multi fans out to several triggers in order.
//   - Signal sends a graceful-reload signal to a master process.
//   - Process supervises a worker command and restarts it.
//   - Broadcaster pushes a reload message to WebSocket clients.
//   - S3Announcer writes a reload marker object for peer hosts.
package reload
