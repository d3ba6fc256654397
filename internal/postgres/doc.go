// Package postgres wraps the extracted server binaries: cluster
// initialization with initdb, launching the postgres process, waiting for it
// to accept connections, and creating the requested database. It produces the
// Process handle the lifecycle manager owns between start and stop.
package postgres
