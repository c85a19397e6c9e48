// Package audit keeps an append-only trail of who changed what.
//
// Entries come from two places: API handlers record rule mutations and
// command dispatches with the caller's subject, and Sink records command
// lifecycle outcomes (failed, timed out, completed) as a command.EventSink.
//
// Writes are best-effort. Sink buffers entries on a channel and a single
// goroutine writes them in order; a full buffer drops the entry with a
// warning rather than blocking the caller.
//
// # Usage
//
//	repo := audit.NewSQLiteRepository(db.DB)
//	sink := audit.NewSink(repo, log)
//	go sink.Run(ctx)
//
//	sink.Record(audit.Entry{Action: audit.ActionCreate, EntityType: "automation_rule", EntityID: id})
package audit
