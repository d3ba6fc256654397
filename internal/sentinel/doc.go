// Package sentinel provides a const-able error type for sentinel errors.
package sentinel
