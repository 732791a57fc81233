// Package connection implements the resilient WebSocket client.
//
// The Client:
//   - Owns one transport handle at a time, replaced on every connect
//   - Publishes Connected, Disconnected, Error, Message and Retry events
//     on ordered, sequential event buses
//   - Routes every failure through a single funnel into the Error bus
//   - Reconnects with a linear backoff when AutoReconnect is set
//
// Disposal cancels two scopes: one bounding handshakes, one bounding
// send, receive and close. Cancellation is never reported as an error.
package connection
