package types

// API error codes. The numeric suffix mirrors the HTTP status.
const (
	CodeBadRequest     = "REQUEST_400"
	CodeDeviceInvalid  = "DEVICE_400"
	CodeDeviceNotFound = "DEVICE_404"
	CodeDeviceConflict = "DEVICE_409"
	CodeDeviceTimeout  = "DEVICE_504"
	CodeDeviceFailure  = "DEVICE_502"
	CodeJobNotFound    = "JOB_404"
	CodeJobConflict    = "JOB_409"
	CodePresetNotFound = "PRESET_404"
	CodeHistoryFailure = "HISTORY_500"
	CodeHistoryOff     = "HISTORY_503"
)

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// NewErrorResponse builds a consistent API error payload.
// details can be string, map, struct, etc.
func NewErrorResponse(code, message string, details any) ErrorResponse {
	return ErrorResponse{
		Error: ErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}
