// Package main is the entry point for the visualization host.
//
// The server accepts untrusted JavaScript visualization snippets, loads the
// rendering libraries they need, runs them in a sandboxed interpreter against
// a single output container and reports the settled state.
//
//	POST /v1/visualizations -> sanitize -> resolve libraries -> execute -> commit or roll back
//	GET  /v1/stream         <- state after every settled pass
//
// Configuration:
//   - Environment variables, optionally from a .env file
//   - CLI flags (override env vars)
//
// Usage:
//
//	./server -port 8000
//	./server -dev -no-demo
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
