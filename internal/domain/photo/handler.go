package photo

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"posmdesk/internal/middleware"
	"posmdesk/internal/pkg/response"
)

type Handler struct {
	store *DiskStore
}

func NewHandler(store *DiskStore) *Handler {
	return &Handler{store: store}
}

// Upload godoc
// @Summary Upload a request photo
// @Description Stores a jpeg, png or webp photo and returns the reference to attach to a request.
// @Tags Photos
// @Accept multipart/form-data
// @Produce json
// @Security BearerAuth
// @Param file formData file true "Photo"
// @Success 201 {object} map[string]interface{}
// @Failure 400,401,413 {object} map[string]interface{}
// @Router /photos [post]
func (h *Handler) Upload(c *gin.Context) {
	if _, ok := middleware.MustActor(c); !ok {
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.CustomError(c, http.StatusBadRequest, "VALIDATION_ERROR", "No file provided")
		return
	}

	stored, err := h.store.SaveFile(c.Request.Context(), fileHeader)
	if err != nil {
		switch {
		case errors.Is(err, ErrEmptyFile), errors.Is(err, ErrInvalidMimeType):
			response.CustomError(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		case errors.Is(err, ErrFileTooLarge):
			response.CustomError(c, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", err.Error())
		default:
			_ = c.Error(err)
			response.CustomError(c, http.StatusInternalServerError, "UPLOAD_FAILED", "Upload failed")
		}
		return
	}

	response.Success(c, http.StatusCreated, stored)
}

func (h *Handler) RegisterRoutes(protected *gin.RouterGroup) {
	protected.POST("/photos", h.Upload)
}
