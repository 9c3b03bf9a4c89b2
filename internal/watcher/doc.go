// Package watcher observes a single artifact file and turns bursts of raw
// filesystem notifications into coalesced change signals.
//
// A Source subscribes to the artifact's parent directory so that editors and
// agents which save through a temporary file and a rename are observed. A
// Coalescer applies a trailing debounce per path: a ChangeSignal is emitted
// only once the path has been quiet for the configured window.
//
// Both types run on their own goroutines. Sinks are invoked from timer
// goroutines and must hand work off without blocking.
package watcher
