package errors

// Common error codes
const (
	// System errors
	ErrInternal        ErrorCode = "internal_error"
	ErrInvalidArgument ErrorCode = "invalid_argument"
	ErrNotImplemented  ErrorCode = "not_implemented"
	ErrUnavailable     ErrorCode = "service_unavailable"

	// Configuration errors
	ErrInvalidConfig   ErrorCode = "invalid_configuration"
	ErrMissingConfig   ErrorCode = "missing_configuration"
	ErrBindFlags       ErrorCode = "bind_flags_failed"
	ErrReadConfig      ErrorCode = "read_config_failed"
	ErrInvalidInterval ErrorCode = "invalid_interval"

	// Logging errors
	ErrInvalidLogLevel ErrorCode = "invalid_log_level"

	// Initialization errors
	ErrInitFailed     ErrorCode = "initialization_failed"
	ErrShutdownFailed ErrorCode = "shutdown_failed"
	ErrAlreadyRunning ErrorCode = "already_running"

	// Acquisition errors
	ErrConnection    ErrorCode = "connection_error"
	ErrProtocol      ErrorCode = "protocol_error"
	ErrStopTimeout   ErrorCode = "stop_timeout"
	ErrUnknownDriver ErrorCode = "unknown_board_driver"
	ErrDiscovery     ErrorCode = "discovery_failed"

	// Pipeline errors
	ErrClassification      ErrorCode = "classification_error"
	ErrBufferOverflow      ErrorCode = "buffer_overflow"
	ErrHRVInsufficientData ErrorCode = "hrv_insufficient_data"

	// Session errors
	ErrInvalidState ErrorCode = "invalid_state"

	// Operation errors
	ErrOperationFailed  ErrorCode = "operation_failed"
	ErrTimeout          ErrorCode = "operation_timeout"
	ErrInvalidOperation ErrorCode = "invalid_operation"
)

// Common error messages
var errorMessages = map[ErrorCode]string{
	ErrInternal:            "Internal error occurred",
	ErrInvalidArgument:     "Invalid argument provided",
	ErrNotImplemented:      "Operation not implemented",
	ErrUnavailable:         "Service unavailable",
	ErrInvalidConfig:       "Invalid configuration",
	ErrMissingConfig:       "Missing configuration",
	ErrBindFlags:           "Failed to bind flags",
	ErrReadConfig:          "Failed to read config file",
	ErrInvalidInterval:     "Invalid interval value",
	ErrInvalidLogLevel:     "Invalid log level",
	ErrInitFailed:          "Initialization failed",
	ErrShutdownFailed:      "Shutdown failed",
	ErrAlreadyRunning:      "Another instance is already running",
	ErrConnection:          "Device connection failed",
	ErrProtocol:            "Malformed device data",
	ErrStopTimeout:         "Acquisition worker did not stop in time",
	ErrUnknownDriver:       "Unknown board driver",
	ErrDiscovery:           "No device answered discovery",
	ErrClassification:      "Channel could not be classified",
	ErrBufferOverflow:      "Sample buffer overflow",
	ErrHRVInsufficientData: "Not enough RR intervals for HRV analysis",
	ErrInvalidState:        "Operation not valid in current session state",
	ErrOperationFailed:     "Operation failed",
	ErrTimeout:             "Operation timed out",
	ErrInvalidOperation:    "Invalid operation",
}

// GetErrorMessage returns the message for a given error code
func GetErrorMessage(code ErrorCode) string {
	if msg, ok := errorMessages[code]; ok {
		return msg
	}

	return string(code)
}
