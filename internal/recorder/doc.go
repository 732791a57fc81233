// Package recorder persists client traffic to PostgreSQL.
//
// Every text message lands in ws_messages and every lifecycle event
// (connected, disconnected, error, retry) in ws_events, both keyed by the
// transport session that produced them. Rows are queued in a bounded
// in-memory buffer and written with pgx batches, either when a batch fills
// or on the flush interval. When the buffer is full new rows are dropped
// and counted rather than blocking the client's receive loop.
package recorder
