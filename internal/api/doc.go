// Package api implements the HTTP API and WebSocket event stream for the
// command service.
//
// This package provides:
//   - Device, state and command endpoints over the device catalog
//   - Command dispatch from control values or raw payloads
//   - A WebSocket hub that relays command lifecycle events
//   - Prometheus exposition on /metrics
//   - Bearer-token authentication with role permissions
//
// # Security
//
// When api.jwt_secret is set every route except /api/v1/health and
// /metrics requires a token minted by auth.GenerateToken. Browsers cannot
// set headers on WebSocket upgrades, so /api/v1/ws also accepts the token
// in the "token" query parameter. With no secret configured the API is open.
//
// # Event stream
//
// The Hub is a command.EventSink. Each event is broadcast on a channel named
// after the event ("command.completed", "device.telemetry_received", ...).
// Clients subscribe to channels by name or to "*" for everything.
package api
