// Package protocol owns the router API error taxonomy.
//
// Ownership boundary:
// - connection errors (socket level, terminal for the session)
// - fatal errors (framing violations and !fatal replies, transport closed)
// - trap errors (!trap replies, session stays usable)
//
// Wire primitives live in the frame and sentence subpackages; the request/reply
// state machine lives in session.
package protocol
