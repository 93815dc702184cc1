// Package api exposes the workflow manager and the task tree over HTTP.
// Reads are open; starting and retrying runs requires a bearer token. Task
// events can be followed live over a websocket.
package api
