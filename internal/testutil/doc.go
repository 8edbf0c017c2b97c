// Package testutil provides shared test helpers: self-signed certificates,
// a loopback TLS server, short unix socket directories, and channel
// receive helpers with a timeout safety valve.
//
// All helpers call t.Fatalf on failure rather than returning errors,
// since test setup failures are not recoverable.
package testutil
