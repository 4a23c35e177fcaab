// Package discovery provides mDNS-based discovery of PiConnect board
// servers.
//
// Board servers advertise the service type "_piconnect._tcp" with TXT
// records describing the server instance (SI), its name (SN), the
// attached device count (DC), device capabilities (cat), a degraded
// flag (DG) set while some devices are offline, and an optional
// firmware version (FW). Announcements are idempotent: re-advertising
// the same info replaces the previous record set.
//
// Desktop clients browse for the service type and aggregate responses
// per instance name, so a server reachable over several interfaces
// shows up once with all its addresses.
package discovery
