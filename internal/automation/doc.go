// Package automation runs device commands in reaction to device messages.
//
// A Rule names a trigger device (optionally one of its topics), an optional
// condition and a list of actions. When the reconciler reports a message
// from the trigger device, the condition is evaluated with the rules
// package against:
//
//	{
//	  "event": "device.state_received",
//	  "device_uuid": "...", "device_external_id": "...",
//	  "topic": "state", "subject": "plugs/plug-1/state",
//	  "purpose": "state",
//	  "payload": {...}
//	}
//
// Matching rules outside their cooldown are executed: actions are grouped
// by their Parallel flag, groups run in order and the actions inside a
// group run concurrently. Each action resolves its controls through the
// target topic's parameters and goes through the command dispatcher, so
// rule-issued commands are tracked and reconciled like API commands.
//
// Components:
//   - Registry: cached rule CRUD over a Repository
//   - Engine: command.EventSink that evaluates and executes rules
//   - SQLiteRepository: automation_rules and automation_executions tables
//
// # Usage
//
//	registry := automation.NewRegistry(automation.NewSQLiteRepository(db.DB))
//	if err := registry.RefreshCache(ctx); err != nil {
//	    return err
//	}
//	engine := automation.NewEngine(registry, devices, dispatcher, hub, repo, logger)
//	go engine.Run(ctx)
//
//	sinks := command.FanOut{logSink, hub, engine}
package automation
