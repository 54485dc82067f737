package api

import (
	"github.com/gin-gonic/gin"

	apperrors "github.com/skillsenselab/scribeflow/internal/errors"
)

// ErrorBody is the error envelope returned on every non-2xx response.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the machine-readable error taxonomy.
type ErrorDetail struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Retryable bool           `json:"retryable"`
	Details   map[string]any `json:"details,omitempty"`
}

func errorBody(appErr *apperrors.AppError) ErrorBody {
	return ErrorBody{Error: ErrorDetail{
		Code:      string(appErr.Code),
		Message:   appErr.Message,
		Retryable: appErr.Retryable,
		Details:   appErr.Details,
	}}
}

// respondError derives status and body from an AppError; anything else
// becomes a generic 500.
func respondError(c *gin.Context, err error) {
	appErr, ok := apperrors.As(err)
	if !ok {
		appErr = apperrors.Internal(err)
	}
	c.JSON(appErr.HTTPStatus, errorBody(appErr))
}
