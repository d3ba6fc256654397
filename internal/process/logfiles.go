package process

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/giantswarm/pgenv/internal/fileutil"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Rotation limits for captured server output. A postgres server under a
// chatty test suite can log heavily; rotation keeps the data directory from
// growing without bound while the last few segments remain for debugging.
const (
	logMaxSizeMB  = 10
	logMaxBackups = 3
)

// LogFiles manages rotating stdout/stderr writers for a process.
// Writers are lazily opened by lumberjack on first write, so construction
// only needs the data directory to exist.
type LogFiles struct {
	stdout  io.WriteCloser
	stderr  io.WriteCloser
	dataDir string
	name    string
}

// NewLogFiles creates rotating log writers for a process in dataDir.
// The name is used to derive file names (e.g. "postgres" ->
// "postgres-stdout.log", "postgres-stderr.log").
func NewLogFiles(dataDir, name string) (LogFiles, error) {
	if err := fileutil.EnsureDir(dataDir); err != nil {
		return LogFiles{}, fmt.Errorf("create %s log directory: %w", name, err)
	}
	l := LogFiles{dataDir: dataDir, name: name}
	l.stdout = &lumberjack.Logger{
		Filename:   l.StdoutPath(),
		MaxSize:    logMaxSizeMB,
		MaxBackups: logMaxBackups,
	}
	l.stderr = &lumberjack.Logger{
		Filename:   l.StderrPath(),
		MaxSize:    logMaxSizeMB,
		MaxBackups: logMaxBackups,
	}
	return l, nil
}

// StdoutPath returns the absolute path to the stdout log file.
func (l *LogFiles) StdoutPath() string {
	return filepath.Join(l.dataDir, l.name+"-stdout.log")
}

// StderrPath returns the absolute path to the stderr log file.
func (l *LogFiles) StderrPath() string {
	return filepath.Join(l.dataDir, l.name+"-stderr.log")
}

// Close closes both writers and nils them to prevent double-close.
func (l *LogFiles) Close() {
	if l.stdout != nil {
		_ = l.stdout.Close()
		l.stdout = nil
	}
	if l.stderr != nil {
		_ = l.stderr.Close()
		l.stderr = nil
	}
}
