// Package httpserver exposes the engine over HTTP: JSON endpoints for
// publish, replay, and administration, and Server-Sent Events for live
// subscriptions. Cursor tokens cross this boundary base64url-encoded.
package httpserver
