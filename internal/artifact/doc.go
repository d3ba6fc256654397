// Package artifact implements the default artifact runtime: it resolves
// engine versions against the zonky binary repository, downloads the
// platform jar, extracts the embedded txz payload, and maintains a
// cross-process cached store of extracted distributions.
package artifact
