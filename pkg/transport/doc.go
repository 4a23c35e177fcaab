// Package transport provides the PiConnect transport layer implementation.
//
// The transport layer handles:
//   - Plain TCP connections on the bench network
//   - Length-prefixed message framing
//   - Keep-alive ping/pong for connection liveness
//   - Connection lifecycle callbacks
//
// # Protocol Stack
//
//	┌────────────────────────────────┐
//	│      CBOR Messages             │
//	├────────────────────────────────┤
//	│   Length-Prefix Framing (4B)   │
//	├────────────────────────────────┤
//	│           TCP                  │
//	└────────────────────────────────┘
//
// PiConnect runs on a closed measurement network, so the transport
// carries no encryption layer. The default port is 50001.
//
// # Keep-Alive
//
// Connection liveness is monitored using ping/pong messages:
//   - Ping interval: 30 seconds
//   - Pong timeout: 5 seconds
//   - Max missed pongs: 3
//   - Maximum detection delay: 95 seconds
package transport
