package response

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"posmdesk/internal/pkg/apperr"
)

func Success(c *gin.Context, statusCode int, data interface{}) {
	c.JSON(statusCode, gin.H{
		"success": true,
		"data":    data,
	})
}

func Error(c *gin.Context, statusCode int, code string, message string) {
	c.JSON(statusCode, gin.H{
		"success": false,
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	})
}

func ErrorWithDetails(c *gin.Context, statusCode int, code string, message string, details any) {
	c.JSON(statusCode, gin.H{
		"success": false,
		"error": gin.H{
			"code":    code,
			"message": message,
			"details": details,
		},
	})
}

// CustomError writes an error envelope and aborts the handler chain.
func CustomError(c *gin.Context, statusCode int, code string, message string) {
	Error(c, statusCode, code, message)
	c.Abort()
}

// FromError maps the core error classes to HTTP. Unclassified errors are
// recorded on the context for the error logger and returned as 500.
func FromError(c *gin.Context, err error) {
	status, code := classify(err)
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
		log.Printf("internal_error path=%s error=%q", c.Request.URL.Path, err)
		Error(c, status, code, "Internal server error")
		return
	}

	var appErr *apperr.Error
	if errors.As(err, &appErr) && appErr.Entity != "" {
		ErrorWithDetails(c, status, code, err.Error(), gin.H{
			"op":        appErr.Op,
			"entity":    appErr.Entity,
			"entity_id": appErr.EntityID,
			"retryable": apperr.Retryable(err),
		})
		return
	}
	Error(c, status, code, err.Error())
}

func classify(err error) (int, string) {
	switch apperr.KindOf(err) {
	case apperr.ErrValidation:
		return http.StatusBadRequest, "VALIDATION_ERROR"
	case apperr.ErrAuthorization:
		return http.StatusForbidden, "FORBIDDEN"
	case apperr.ErrPrecondition:
		return http.StatusUnprocessableEntity, "PRECONDITION_FAILED"
	case apperr.ErrConflict:
		return http.StatusConflict, "CONFLICT"
	case apperr.ErrNotFound:
		return http.StatusNotFound, "NOT_FOUND"
	}
	return http.StatusInternalServerError, "INTERNAL_ERROR"
}
