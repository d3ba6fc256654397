// Package netutil provides free-port allocation for pgenv servers.
package netutil
