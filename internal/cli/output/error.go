package output

// StructuredError is a machine-parseable command failure.
type StructuredError struct {
	// Code is a machine-readable error identifier (e.g., "CONNECTION_FAILED")
	Code    string `json:"code" yaml:"code"`
	Message string `json:"message" yaml:"message"`

	Guidance        string `json:"guidance,omitempty" yaml:"guidance,omitempty"`
	RecoveryCommand string `json:"recovery_command,omitempty" yaml:"recovery_command,omitempty"`

	Context map[string]interface{} `json:"context,omitempty" yaml:"context,omitempty"`

	// RequestID correlates the failure with client logs.
	RequestID string `json:"request_id,omitempty" yaml:"request_id,omitempty"`
}

// Error implements the error interface for StructuredError.
func (e StructuredError) Error() string {
	return e.Message
}

// Error codes reported by CLI commands
const (
	ErrCodeConnectionFailed    = "CONNECTION_FAILED"
	ErrCodeTimeout             = "TIMEOUT"
	ErrCodeServerError         = "SERVER_ERROR"
	ErrCodeParseError          = "PARSE_ERROR"
	ErrCodeInvalidInput        = "INVALID_INPUT"
	ErrCodeInvalidOutputFormat = "INVALID_OUTPUT_FORMAT"
	ErrCodeConfigInvalid       = "CONFIG_INVALID"
	ErrCodeOperationFailed     = "OPERATION_FAILED"
)

// NewStructuredError creates a new StructuredError with the given code and message.
func NewStructuredError(code, message string) StructuredError {
	return StructuredError{
		Code:    code,
		Message: message,
	}
}

// WithGuidance adds guidance to the error.
func (e StructuredError) WithGuidance(guidance string) StructuredError {
	e.Guidance = guidance
	return e
}

// WithRecoveryCommand adds a recovery command suggestion.
func (e StructuredError) WithRecoveryCommand(cmd string) StructuredError {
	e.RecoveryCommand = cmd
	return e
}

// WithContext adds context data to the error.
func (e StructuredError) WithContext(key string, value interface{}) StructuredError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithRequestID attaches a request id.
func (e StructuredError) WithRequestID(requestID string) StructuredError {
	e.RequestID = requestID
	return e
}

// FromError converts err, keeping it as is when it already is a StructuredError.
func FromError(err error, code string) StructuredError {
	if se, ok := err.(StructuredError); ok {
		return se
	}
	return StructuredError{
		Code:    code,
		Message: err.Error(),
	}
}
