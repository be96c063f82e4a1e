// Package runtime assembles the engine for a single-node instance: storage,
// identity, rate limiting, fan-out, and the background usage and retention
// loops. Servers and commands consume its accessors rather than constructing
// components themselves.
package runtime
