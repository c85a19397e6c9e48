// Package statestore keeps the latest payload received on each device
// subject.
//
// The reconciler writes through Store on every inbound message. Readers get
// a Record per subject: LastState is the newest across a device, AllStates
// lists every subject newest first, and StateByTopic looks one up.
//
// Backends:
//   - NATSKV: a JetStream key-value bucket, one key per device subject
//   - Redis: one hash per device, one field per subject
//   - SQLite: a table in the core database that can also keep a short
//     per-subject history
package statestore
