// Package output provides JSON and styled output formatting and error handling.
package output

// Exit codes.
const (
	ExitOK         = 0 // Success
	ExitUsage      = 1 // Invalid arguments or flags
	ExitNotFound   = 2 // Athlete not found
	ExitAuth       = 3 // Credential missing or needs re-authorization
	ExitConfig     = 4 // Missing or unusable client configuration
	ExitAuthDenied = 5 // Athlete denied the authorization request
	ExitTimeout    = 6 // No callback within the timeout
	ExitNetwork    = 7 // Connection/DNS/timeout error
	ExitAPI        = 8 // Token endpoint returned an error
)

// Error codes for JSON envelope.
const (
	CodeUsage      = "usage"
	CodeNotFound   = "not_found"
	CodeAuth       = "auth_required"
	CodeConfig     = "config"
	CodeAuthDenied = "auth_denied"
	CodeTimeout    = "timeout"
	CodeNetwork    = "network"
	CodeAPI        = "api_error"
)

// ExitCodeFor returns the exit code for a given error code.
func ExitCodeFor(code string) int {
	switch code {
	case CodeUsage:
		return ExitUsage
	case CodeNotFound:
		return ExitNotFound
	case CodeAuth:
		return ExitAuth
	case CodeConfig:
		return ExitConfig
	case CodeAuthDenied:
		return ExitAuthDenied
	case CodeTimeout:
		return ExitTimeout
	case CodeNetwork:
		return ExitNetwork
	case CodeAPI:
		return ExitAPI
	default:
		return ExitAPI
	}
}
