// Package dispatch maps operation IDs to handlers and finalises their
// responses.
//
// The transport resolves a request (URL and verb) to an operation ID from
// an endpoint table and calls Dispatch with an Operation wrapping the
// request and response. The Dispatcher looks the ID up, runs the handler,
// encodes its Result as JSON and calls Operation.Send exactly once.
//
// Unknown operation IDs produce 501 Not Implemented with an empty body.
// Handler errors, handler panics, and JSON encoding failures produce 500
// with an empty body; the cause is logged.
package dispatch
