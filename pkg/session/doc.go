// Package session owns the plotting session lifecycle.
//
// A session maps one caller-supplied id to exactly one live engine handle.
// The Manager exposes the five operations external collaborators call
// (handshake, command, export, persist, release) and enforces the state
// machine: a record exists if and only if the session is active, the record
// owns its handle exclusively, and the handle is released at most once.
//
// Engine operations for one session run through a single-flight lane keyed
// by session id, so script execution order matches call-issue order and no
// two operations touch the same handle concurrently.
package session
