// Package ddp implements the server side of a DDP-style message protocol for
// a single logical connection.
//
// An [Engine] receives already-extracted transport text through
// [Engine.Process]. The text is a JSON array whose elements are themselves
// JSON-encoded packets. Each packet is classified by its "msg" field and run
// through a fixed handler order:
//
//	ping -> connect -> sub -> unsub -> method
//
// The first handler that claims a packet produces its responses. Packets no
// handler claims are dropped silently. All responses produced by one call to
// Process are flushed as a single frame through the engine's [EmitFunc]:
//
//	a["{\"msg\":\"pong\"}","{\"msg\":\"connected\",\"session\":\"Xy12...\"}"]
//
// A call that produces nothing emits nothing.
//
// # Methods
//
// Methods are registered by name with a single [MethodFunc] signature. The
// positional arguments (0 to [MaxArgs]) and an explicit snapshot of the
// connection [Env] travel on the [Call]. A method call always answers with a
// "result" message followed by an "updated" message carrying the call id.
// Lookup failures, arity violations, returned errors and panics are reported
// in-band as an [Error] inside the result; they never abort the batch.
//
// # Collection events
//
// Application code pushes "added", "changed" and "removed" messages through
// [Engine.EmitAdded], [Engine.EmitChanged] and [Engine.EmitRemoved] (or the
// [Emitter] handed to methods). Each call produces exactly one frame.
//
// # Subscriptions
//
// The engine owns no collection storage. "sub" and "unsub" packets are
// forwarded to a [Subscriptions] implementation; the default, [AutoReady],
// acknowledges every subscription immediately.
package ddp
