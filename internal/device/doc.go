// Package device is the device and schema catalog.
//
// A device type owns schema versions. A schema version is a set of topics,
// each a publish or subscribe channel with a purpose and typed parameters.
// Devices point at one schema version. Feedback links join a command topic
// to the topics that report its acknowledgement or resulting state.
//
// # Key Types
//
//   - Device: a provisioned device, addressed by external id or uuid
//   - Topic: a schema channel (direction, purpose, suffix, parameters)
//   - Parameter: a typed payload field with default and validation rules
//   - FeedbackLinks: command topic to feedback topic adjacency
//
// # Usage
//
//	repo := device.NewSQLiteRepository(db.DB)
//	registry := device.NewRegistry(repo)
//	registry.SetLogger(log)
//
//	topics, err := registry.Topics(ctx, *dev.SchemaVersionID)
//	links, err := registry.FeedbackLinks(ctx, *dev.SchemaVersionID)
//
//	subject := device.Subject(cfg.Broker.BaseTopic, dev, &topics[0])
//
// # Thread Safety
//
// The Registry is safe for concurrent use. The SQLite repository relies on
// the database's single connection for serialisation.
package device
