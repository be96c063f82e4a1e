// Package serverrun boots a single-node tidal server: it opens the
// runtime, wires the event and admin services into the HTTP+SSE
// transport, and runs the background loops until shutdown.
package serverrun
