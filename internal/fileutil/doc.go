// Package fileutil provides small filesystem helpers shared across pgenv.
package fileutil
