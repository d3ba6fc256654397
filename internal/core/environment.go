package core

// CommandPostProcessor rewrites a launch command line just before the server
// process is spawned. The canonical use is dropping privileges on platforms
// where the server binary refuses to run as an administrative user. A nil
// post-processor leaves commands untouched.
type CommandPostProcessor func(argv []string) []string

// Environment is the runtime environment handed to the Runtime collaborator:
// the artifact store location plus an optional command post-processor. It is
// built once, carries no per-instance state, and may be shared by any number
// of servers.
type Environment struct {
	storeDir string
	post     CommandPostProcessor
}

// NewEnvironment creates an Environment with the given artifact store
// directory and optional command post-processor. Panics if storeDir is
// empty; environments are built by code, not user input, so an empty store
// directory is a programmer error.
func NewEnvironment(storeDir string, post CommandPostProcessor) *Environment {
	if storeDir == "" {
		panic("pgenv: environment store directory must not be empty")
	}
	return &Environment{storeDir: storeDir, post: post}
}

// StoreDir returns the artifact store directory. Distributions already
// extracted under it are reused; missing ones are downloaded into it.
func (e *Environment) StoreDir() string {
	return e.storeDir
}

// AdjustCommand applies the command post-processor to argv, returning argv
// unchanged when no post-processor is attached.
func (e *Environment) AdjustCommand(argv []string) []string {
	if e.post == nil {
		return argv
	}
	return e.post(argv)
}
