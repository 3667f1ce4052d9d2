// Package commandqueue serializes engine operations per session.
//
// Invariants:
// - Tasks in the same lane execute one at a time, in FIFO order.
// - Tasks in different lanes may execute concurrently.
// - Resetting a lane fails its queued tasks without touching other lanes.
//
// Lanes are keyed by session id, so two commands against one session can
// never run concurrently against the same engine handle.
package commandqueue
