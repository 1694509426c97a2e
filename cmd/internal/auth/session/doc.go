// Package session supplies the credentials the chat client presents to the
// marketplace backend.
//
// Access tokens are JWT bearer tokens. Sources implement oauth2.TokenSource and
// are consulted on every connection attempt, so a token refreshed on disk or in
// the environment is picked up by the next reconnect without restarting.
//
// Issuer mints and verifies HS256 tokens for the development backend.
package session
