// Package timeouts defines shared timeout constants for the chat process.
package timeouts

import "time"

// ReadHeader limits how long an HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long an HTTP server waits for in-flight requests
// during graceful shutdown.
const Shutdown = 5 * time.Second

// Translate caps a single translation round trip to the model provider.
const Translate = 20 * time.Second

// Assistant caps a full assistant exchange, tool rounds included.
const Assistant = 45 * time.Second

// Search caps one call to the web search provider.
const Search = 5 * time.Second

// Persist caps a single storage write issued from the relay.
const Persist = 3 * time.Second

// Lookup caps storage reads issued while handling a connection event.
const Lookup = 3 * time.Second

// StorageConnect bounds the retry window when opening a remote database.
const StorageConnect = 30 * time.Second
