package errors

import (
	"net/http"

	"github.com/go-chi/render"
)

// ErrResponse implements the render.Renderer interface for license errors
type ErrResponse struct {
	Err            error  `json:"-"`
	HTTPStatusCode int    `json:"-"`
	StatusText     string `json:"status"`
	AppCode        string `json:"code,omitempty"`
	ErrorText      string `json:"error,omitempty"`
	TraceID        string `json:"trace_id,omitempty"`
}

// Render implements the render.Renderer interface
func (e *ErrResponse) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.HTTPStatusCode)
	return nil
}

// Error codes for license operations
const (
	ErrCodeValidation     = "LICENSE_INVALID"
	ErrCodeAuthentication = "LICENSE_AUTHENTICATION_FAILED"
	ErrCodeManagement     = "LICENSE_MANAGEMENT_FAILED"
	ErrCodeBadRequest     = "INVALID_REQUEST"
)

// NewErrResponse renders err with the given status. Confidential details
// never leave the process.
func NewErrResponse(status int, err error) *ErrResponse {
	code := ErrCodeManagement
	switch KindOf(err) {
	case KindValidation:
		code = ErrCodeValidation
	case KindAuthentication:
		code = ErrCodeAuthentication
	}
	return &ErrResponse{
		Err:            err,
		HTTPStatusCode: status,
		StatusText:     http.StatusText(status),
		AppCode:        code,
		ErrorText:      PublicMessage(err),
	}
}

// ErrInvalidRequest creates a bad request error
func ErrInvalidRequest(message string) *ErrResponse {
	return &ErrResponse{
		HTTPStatusCode: http.StatusBadRequest,
		StatusText:     http.StatusText(http.StatusBadRequest),
		AppCode:        ErrCodeBadRequest,
		ErrorText:      message,
	}
}
