// Package devhub is an in-memory stand-in for the marketplace chat backend.
//
// It serves the chat REST API and the hub websocket protocol from one
// http.Handler so the client packages can be exercised end to end in tests
// and from the devhub CLI command. Nothing is persisted.
package devhub
