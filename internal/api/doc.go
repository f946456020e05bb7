// Package api implements the status HTTP server and live event stream for
// the MQTT connector.
//
// This package provides:
//   - Health and metrics endpoints reporting connection state and counters
//   - A connection endpoint listing the desired subscriptions
//   - A query endpoint over the SQLite event journal
//   - A WebSocket hub that streams connector events as they happen, on
//     the connector.event and connector.state_changed channels
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Graceful Degradation
//
// The server runs without the journal or database. The events endpoint
// then answers 503 and the metrics omit database statistics.
//
// The server is read-only: it never changes connector state.
package api
