// Package chat holds the client's conversation state.
//
// A Store merges three sources into one ordered view: REST pages fetched on
// demand, events pushed by the hub, and a polling loop that keeps running
// whether or not the hub connection is up. Message lists are kept ascending
// by creation time and unique by id. A conversation's unread count only goes
// down when the server confirms a read.
//
// Results of REST calls that complete after Disable are dropped: every call
// captures the store generation and re-checks it before touching state.
package chat
