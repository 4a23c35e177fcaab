// Package session manages client sessions on the board server. A
// session is bound to one transport connection and holds zero or more
// device reservations. Reservation is atomic over the requested device
// set: either every device transitions Idle to Reserved under the
// session, or none do.
package session
