package main

// Exit codes let scripts tell failure classes apart.
const (
	ExitCodeSuccess = 0

	// ExitCodeGeneralError indicates a generic error (default)
	ExitCodeGeneralError = 1

	// ExitCodeConnectionError indicates the backend could not be reached in time
	ExitCodeConnectionError = 2

	// ExitCodeInvalidInput indicates rejected arguments
	ExitCodeInvalidInput = 3

	// ExitCodeConfigError indicates configuration validation failed
	ExitCodeConfigError = 4

	// ExitCodeServerError indicates the backend answered with a failure
	ExitCodeServerError = 5
)

// exitCodeDescription returns a human-readable description of the exit code
func exitCodeDescription(code int) string {
	switch code {
	case ExitCodeSuccess:
		return "Success"
	case ExitCodeGeneralError:
		return "General error"
	case ExitCodeConnectionError:
		return "Backend unreachable"
	case ExitCodeInvalidInput:
		return "Invalid input"
	case ExitCodeConfigError:
		return "Configuration error"
	case ExitCodeServerError:
		return "Backend reported an error"
	default:
		return "Unknown error"
	}
}
