// doc.go - package documentation.

// Package server implements the QuickDrop object gateway: the HTTP routes
// that turn a short id into a viewer page, a password challenge or the raw
// object bytes, plus the upload API, health probes and metrics. It depends
// only on storage.Store, so tests run it against the in-memory store.
package server
