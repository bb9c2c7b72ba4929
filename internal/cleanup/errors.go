package cleanup

import "errors"

var (
	ErrSchedulerAlreadyRunning = errors.New("cleanup scheduler is already running")
	ErrSchedulerNotRunning     = errors.New("cleanup scheduler is not running")
)
