package main

// ExitCodeError pairs an error message with a process exit code, mirroring
// the teacher CLI's own exit-code plumbing.
type ExitCodeError struct {
	Code    int
	Message string
}

func (e *ExitCodeError) Error() string {
	return e.Message
}
