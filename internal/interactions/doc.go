// Package interactions keeps per-content interaction counters and
// viewer-relative flags consistent across instantaneous optimistic local
// mutations, asynchronous durable writes, and an independent at-least-once
// stream of push events describing this and other viewers' mutations.
//
// All state lives behind a single actor goroutine (Engine.run) draining a
// typed command channel, so every apply against a content item's state is
// atomic with respect to every other. Durable writes, push deliveries, and
// debounce timers run on their own goroutines and feed results back into
// the actor as commands.
package interactions
