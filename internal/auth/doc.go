// Package auth issues and verifies the bearer tokens accepted by the HTTP
// API.
//
// Tokens are HS256 JWTs carrying a subject and one of three roles:
// viewer (read devices, states and the event stream), operator (also
// dispatch commands) and admin (also run expiry sweeps). The role to
// permission mapping is static.
package auth
