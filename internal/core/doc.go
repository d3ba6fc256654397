// Package core implements the pgenv process lifecycle manager: the
// connection configuration model, the unstarted/running/stopped state
// machine, and the conditional data directory cleanup applied on stop.
//
// Binary resolution, extraction, and process spawning are collaborators
// consumed through the Runtime interface family; the default
// implementations live in internal/artifact and internal/postgres.
package core
