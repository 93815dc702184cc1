// Package queue provides resource queues: admission control for a scarce
// external resource such as browser sessions, HTTP requests or downloads.
//
// A Queue admits one job at a time once a capacity slot is free and a minimum
// delay since the previous admission has elapsed. Capacity and delay are read
// through accessor functions on every evaluation, so limits can change while
// the queue is running. Each queue is owned by a single goroutine that makes
// every admission decision, so queues never share state with each other.
package queue
