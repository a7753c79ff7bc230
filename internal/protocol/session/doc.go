// Package session owns one authenticated router API connection.
//
// Ownership boundary:
// - transport dialing (plain TCP on 8728, TLS on 8729)
// - login handshake (MD5 challenge-response and plain)
// - request/reply exchange and reply classification
// - reconnect backoff primitives
//
// Lifecycle order:
// - unauthenticated -> authenticating -> authenticated -> closed
//
// - closed is terminal; a dropped connection always needs a new Session and a
// fresh login, the protocol has no resumption.
package session
