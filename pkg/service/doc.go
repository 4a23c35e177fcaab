// Package service wires the board server together: the device
// registry, session manager, job runner, and artifact store behind a
// framed-CBOR TCP endpoint, plus the mDNS advertisement that keeps the
// discovery summary current. Requests on a connection are handled
// sequentially; sessions are bound to their connection and close with
// it.
package service
