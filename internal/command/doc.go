// Package command implements the command lifecycle between the platform and
// its devices.
//
// A command moves through these statuses:
//
//	pending ──publish ok──▶ sent ──ack──▶ acknowledged ──state──▶ completed
//	   │                     │                 │
//	   └──publish error──▶ failed              └────── no feedback ──▶ timeout
//
// Three components drive it:
//
//   - Dispatcher records a command and its desired topic state, publishes
//     it, and marks it sent or failed.
//   - Reconciler resolves inbound messages through a TopicRegistry, stores
//     the latest state, matches the message to an in-flight command (by
//     _meta.command_id, else by payload overlap) and advances it.
//   - Expirer times out in-flight commands older than the command timeout.
//
// All status changes are conditional on the row still being in flight, so
// the three may run concurrently against the same commands.
//
// Usage:
//
//	repo := command.NewSQLiteRepository(db.DB)
//	dispatcher := command.NewDispatcher(repo, publisher, sink, command.DispatcherConfig{
//	    BaseTopic:           "device",
//	    InjectMetaCommandID: true,
//	}, logger)
//	cmd, err := dispatcher.Dispatch(ctx, command.Request{Device: dev, Topic: topic, Payload: p})
package command
