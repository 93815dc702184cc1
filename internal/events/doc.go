// Package events provides types and interfaces for an event-driven architecture.
//
// This package defines event types and handler interfaces that allow for loose coupling
// between components in the system. The task tree emits events whenever a node changes
// without knowing which handlers will process them, so persistence and live streaming
// stay out of the engine.
//
// The primary components are:
// - Event: A typed, JSON-encoded notification
// - EventHandler: Interface for components that can handle events
// - EventEmitter: Interface for components that can emit events
package events
