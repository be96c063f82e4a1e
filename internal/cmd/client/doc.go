// Package client implements the tidal CLI's HTTP client commands: event
// publish/tail/replay against the data plane and tenant, project, key,
// retention, and usage operations against the control plane. The server
// address comes from TIDAL_HTTP and credentials from TIDAL_API_KEY.
package client
