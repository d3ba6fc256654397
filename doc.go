// Package pgenv starts ephemeral PostgreSQL servers for tests.
//
// A Server downloads the server binaries for the requested release on first
// use, caches them in a shared artifact store, initializes a cluster in a
// transient or caller-supplied data directory, launches the postgres process,
// and waits until it accepts connections. Stop tears the process down and
// sweeps transient storage, so a test binary leaves nothing behind.
//
// Typical use:
//
//	srv := pgenv.New(pgenv.WithVersion("17.2"))
//	defer srv.Close()
//
//	url, err := srv.Start(ctx, pgenv.StartDatabase("app_test"))
//	if err != nil {
//		t.Fatal(err)
//	}
//	// connect using url ...
//
// A Server runs at most once: after Stop it is terminal, and a fresh Server
// is needed for the next instance. Any number of Servers may run
// concurrently; they share the artifact store through file locking.
package pgenv
