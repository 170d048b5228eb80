// Package session defines the device session contract and the pieces every protocol
// handler is built from.
//
// A Session owns one physical connection attempt: Run connects through a device.Transport,
// starts the device-specific protocol, waits until the handler reaches a terminal state and
// disconnects exactly once on every exit path. Handlers embed *Link, which implements the
// shared connect/disconnect logic and gated state transitions, and add their own OnFrame.
//
// A Registry maps device type identifiers to constructors. It is built explicitly by the
// program's composition root and is read-only once populated.
package session
