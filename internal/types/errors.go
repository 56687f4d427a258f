package types

import (
	"fmt"
	"net/http"
)

// ErrorBody is the payload of every failed REST call. Command failures also
// carry the interpreter's status and, for FUNCTION_ERROR, the cause that
// GET /api/v1/commands/last-error would report.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`

	Command string       `json:"command,omitempty"`
	Status  *CommandCode `json:"status,omitempty"`
	Cause   *CommandCode `json:"cause,omitempty"`
	Lines   []string     `json:"lines,omitempty"`
}

// CommandCode is a numbered interpreter result such as a command Status or a
// FunctionError.
type CommandCode struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// ErrorCode names a failure by API area and HTTP status, e.g. BOARD_500.
func ErrorCode(area string, httpStatus int) string {
	return fmt.Sprintf("%s_%d", area, httpStatus)
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

// NewCommandFailure reports a command line that ran but did not succeed.
// The message is the FAIL or ERROR line a console session would have seen;
// cause is nil unless the command failed with a function error.
func NewCommandFailure(command, statusLine string, status CommandCode, cause *CommandCode, lines []string) ErrorResponse {
	return ErrorResponse{
		Error: ErrorBody{
			Code:    ErrorCode("COMMAND", http.StatusUnprocessableEntity),
			Message: statusLine,
			Command: command,
			Status:  &status,
			Cause:   cause,
			Lines:   lines,
		},
	}
}
