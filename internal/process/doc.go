// Package process provides shared OS process lifecycle management for the
// postgres server: start with captured output, readiness polling, and a
// SIGTERM-then-SIGKILL stop sequence with bounded waits.
package process
