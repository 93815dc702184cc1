// Package task tracks long-running work as a tree of task nodes and runs that
// work with bounded-failure semantics.
//
// A Tree holds every node created during a run. Nodes carry a title, a status
// line, numeric progress, a terminal state and an optional error. A parent can
// derive its progress and state from its children, so the progress of a whole
// workflow is always a pure function of the leaves currently executing.
//
// On top of the tree the package provides three execution helpers:
//   - Run wraps one unit of work around one node and guarantees the node
//     completes however the work ends.
//   - Map runs a function over every item of a list concurrently, collecting a
//     Result per item without letting one failure stop its siblings.
//   - FetchPaged discovers a page count from page 1 and fetches the remaining
//     pages through Map, or fetches an explicit set of pages for retries.
//
// Map deliberately has no concurrency cap of its own. Leaves that touch a
// scarce resource go through a queue.Queue, which is where backpressure lives.
package task
