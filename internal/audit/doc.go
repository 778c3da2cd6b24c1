// Package audit relays security events from the engine to a [Sink] on a single
// background goroutine.
//
// The [Dispatcher] either drops events when its buffer is full or blocks the
// emitter until the emitter's context ends. Sink panics are recovered and
// counted. The engine decides which events exist; this package never filters
// them.
package audit
