// Package transport is the framed-message primitive used by the connection
// package.
//
// The gorilla/websocket adapter exposes reads in caller-sized chunks: a
// message larger than the buffer is returned over several Receive calls and
// only the last one is marked Final. Close frames are surfaced as a Result
// of kind FrameClose instead of an error so the caller decides whether to
// acknowledge them.
package transport
