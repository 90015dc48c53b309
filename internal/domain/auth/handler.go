package auth

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"posmdesk/internal/middleware"
	"posmdesk/internal/pkg/response"
)

type Handler struct {
	service  *Service
	tokenTTL time.Duration
}

func NewHandler(service *Service, tokenTTL time.Duration) *Handler {
	return &Handler{
		service:  service,
		tokenTTL: tokenTTL,
	}
}

// Login authenticates a desk user by email and password.
// @Summary		Login
// @Description	Returns an access token carrying the user's role and depot assignments.
// @Tags		Auth
// @Param		request	body	LoginRequest	true	"Credentials"
// @Success		200	{object}	map[string]interface{}
// @Failure		400	{object}	map[string]interface{}
// @Failure		401	{object}	map[string]interface{}
// @Failure		403	{object}	map[string]interface{}
// @Router		/auth/login [POST]
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.CustomError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body")
		return
	}

	loginResult, err := h.service.Login(c.Request.Context(), req, c.Request.UserAgent(), c.ClientIP())
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidCredentials):
			response.CustomError(c, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Email or password is incorrect")
		case errors.Is(err, ErrAccountInactive):
			response.CustomError(c, http.StatusForbidden, "ACCOUNT_INACTIVE", "Account is deactivated")
		case errors.Is(err, ErrAccountLocked):
			response.CustomError(c, http.StatusForbidden, "ACCOUNT_LOCKED", "Account is temporarily locked")
		default:
			_ = c.Error(err)
			response.CustomError(c, http.StatusInternalServerError, "LOGIN_FAILED", "Failed to login")
		}
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"user": loginResult.User,
		"tokens": gin.H{
			"access_token": loginResult.AccessToken,
			"token_type":   "Bearer",
			"expires_in":   int(h.tokenTTL.Seconds()),
		},
	})
}

// Logout records the end of a session.
// @Summary		Logout
// @Tags		Auth
// @Security	BearerAuth
// @Success		200	{object}	map[string]interface{}
// @Router		/auth/logout [POST]
func (h *Handler) Logout(c *gin.Context) {
	actor, ok := middleware.MustActor(c)
	if !ok {
		return
	}
	if err := h.service.Logout(c.Request.Context(), actor); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"message": "Logged out"})
}

// GetMe returns the authenticated user with their depots.
// @Summary		Current user
// @Tags		Auth
// @Security	BearerAuth
// @Success		200	{object}	map[string]interface{}
// @Failure		401	{object}	map[string]interface{}
// @Failure		404	{object}	map[string]interface{}
// @Router		/users/me [GET]
func (h *Handler) GetMe(c *gin.Context) {
	actor, ok := middleware.MustActor(c)
	if !ok {
		return
	}

	user, err := h.service.GetCurrentUser(c.Request.Context(), actor.UserID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"user": user})
}

func (h *Handler) ListUsers(c *gin.Context) {
	actor, ok := middleware.MustActor(c)
	if !ok {
		return
	}

	users, err := h.service.ListUsers(c.Request.Context(), actor)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"users": users})
}

// CreateUser registers a desk user. Admin only.
// @Summary		Create user
// @Tags		Users
// @Security	BearerAuth
// @Param		request	body	CreateUserRequest	true	"New user"
// @Success		201	{object}	map[string]interface{}
// @Failure		400	{object}	map[string]interface{}
// @Failure		403	{object}	map[string]interface{}
// @Failure		409	{object}	map[string]interface{}
// @Router		/users [POST]
func (h *Handler) CreateUser(c *gin.Context) {
	actor, ok := middleware.MustActor(c)
	if !ok {
		return
	}

	var req CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.CustomError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body")
		return
	}

	user, err := h.service.CreateUser(c.Request.Context(), actor, req)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusCreated, gin.H{"user": user})
}

func (h *Handler) SetDepots(c *gin.Context) {
	actor, ok := middleware.MustActor(c)
	if !ok {
		return
	}

	userID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || userID <= 0 {
		response.CustomError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid user id")
		return
	}

	var req SetDepotsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.CustomError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body")
		return
	}

	user, err := h.service.SetDepots(c.Request.Context(), actor, userID, req.DepotIDs)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"user": user})
}
