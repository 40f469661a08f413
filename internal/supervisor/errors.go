package supervisor

import (
	"errors"
	"fmt"
)

// ConfigError blocks a start until the user fixes settings. It is raised
// before any port inspection or process work happens.
type ConfigError struct {
	Reason error
}

func (e *ConfigError) Error() string { return fmt.Sprintf("configuration invalid: %v", e.Reason) }
func (e *ConfigError) Unwrap() error { return e.Reason }

// ErrCredentialsNotReady means the credential-wait retry loop exhausted all
// attempts without a successful status and connectivity check. Terminal for
// the start request; the user is told to retry manually.
var ErrCredentialsNotReady = errors.New("credentials not ready after login retries")

// ErrStartAborted means a stop request arrived while a start was still in
// its bring-up phase; the start resolves with this instead of producing a
// running process.
var ErrStartAborted = errors.New("start aborted by stop request")

// SpawnError means the OS refused to create the supervised process. Fatal
// for the start attempt, never for the application.
type SpawnError struct {
	Err error
}

func (e *SpawnError) Error() string { return fmt.Sprintf("could not start process: %v", e.Err) }
func (e *SpawnError) Unwrap() error { return e.Err }
