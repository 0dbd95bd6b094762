package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/ukydev/fleetops/internal/auth"
	"github.com/ukydev/fleetops/internal/db"
	"github.com/ukydev/fleetops/internal/fleeterr"
	"github.com/ukydev/fleetops/internal/middleware"
	"github.com/ukydev/fleetops/internal/models"
)

// AuthHandler handles authentication requests
type AuthHandler struct {
	authService    *auth.Service
	userCollection db.UserCollection
	logger         log.FieldLogger
}

// NewAuthHandler creates a new authentication handler
func NewAuthHandler(authService *auth.Service, userCollection db.UserCollection, logger log.FieldLogger) *AuthHandler {
	return &AuthHandler{
		authService:    authService,
		userCollection: userCollection,
		logger:         logger,
	}
}

// Login handles user login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var loginReq models.LoginRequest
	if err := decodeJSON(r, &loginReq); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "Invalid JSON")
		return
	}
	if loginReq.Username == "" || loginReq.Password == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "Username and password are required")
		return
	}

	user, err := h.userCollection.FindUserByUsername(r.Context(), loginReq.Username)
	if err != nil {
		if !errors.Is(err, fleeterr.ErrNotFound) {
			writeDomainError(w, h.logger, err)
			return
		}
		writeError(w, http.StatusUnauthorized, "unauthorized", "Invalid credentials")
		return
	}
	if !user.IsActive {
		writeError(w, http.StatusUnauthorized, "unauthorized", "Account is deactivated")
		return
	}
	if !h.authService.CheckPassword(loginReq.Password, user.PasswordHash) {
		writeError(w, http.StatusUnauthorized, "unauthorized", "Invalid credentials")
		return
	}

	h.respondWithTokens(w, http.StatusOK, user)

	if err := h.userCollection.UpdateLastLogin(r.Context(), user.ID.Hex()); err != nil {
		h.logger.WithError(err).WithField("user", user.Username).Warn("Failed to update last login")
	}
}

// Register handles self-registration. It only creates viewer accounts; other roles
// are assigned by an administrator through CreateUser.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var registerReq models.RegisterRequest
	if err := decodeJSON(r, &registerReq); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "Invalid JSON")
		return
	}
	if registerReq.Role == "" {
		registerReq.Role = models.RoleViewer
	}
	if registerReq.Role != models.RoleViewer {
		writeError(w, http.StatusForbidden, "forbidden", "Self-registration creates viewer accounts only")
		return
	}

	user, ok := h.createUser(w, r, registerReq)
	if !ok {
		return
	}
	h.respondWithTokens(w, http.StatusCreated, user)
}

// CreateUser handles POST /api/users: an administrator opens an account with any role.
func (h *AuthHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "Invalid JSON")
		return
	}
	user, ok := h.createUser(w, r, req)
	if !ok {
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (h *AuthHandler) createUser(w http.ResponseWriter, r *http.Request, req models.RegisterRequest) (*models.User, bool) {
	for _, err := range []error{
		h.authService.ValidateUsername(req.Username),
		h.authService.ValidateEmail(req.Email),
		h.authService.ValidatePassword(req.Password),
	} {
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
			return nil, false
		}
	}
	if !models.IsValidRole(req.Role) {
		writeError(w, http.StatusBadRequest, "invalid_input", "Invalid role")
		return nil, false
	}

	if _, err := h.userCollection.FindUserByUsername(r.Context(), req.Username); err == nil {
		writeError(w, http.StatusConflict, "conflict", "Username already exists")
		return nil, false
	}
	if _, err := h.userCollection.FindUserByEmail(r.Context(), req.Email); err == nil {
		writeError(w, http.StatusConflict, "conflict", "Email already exists")
		return nil, false
	}

	passwordHash, err := h.authService.HashPassword(req.Password)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return nil, false
	}

	now := time.Now()
	user := models.User{
		ID:           primitive.NewObjectID(),
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: passwordHash,
		Role:         req.Role,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := h.userCollection.InsertUser(r.Context(), user); err != nil {
		writeDomainError(w, h.logger, err)
		return nil, false
	}
	h.logger.WithFields(log.Fields{"user": user.Username, "role": user.Role}).Info("User registered")
	return &user, true
}

// EnsureAdmin creates the bootstrap administrator account unless username already exists.
func (h *AuthHandler) EnsureAdmin(ctx context.Context, username, password string) error {
	if _, err := h.userCollection.FindUserByUsername(ctx, username); err == nil {
		return nil
	} else if !errors.Is(err, fleeterr.ErrNotFound) {
		return err
	}
	if err := h.authService.ValidatePassword(password); err != nil {
		return fmt.Errorf("admin password: %w", err)
	}
	hash, err := h.authService.HashPassword(password)
	if err != nil {
		return err
	}
	now := time.Now()
	err = h.userCollection.InsertUser(ctx, models.User{
		ID:           primitive.NewObjectID(),
		Username:     username,
		Email:        username + "@fleetops.local",
		PasswordHash: hash,
		Role:         models.RoleAdmin,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		return err
	}
	h.logger.WithField("user", username).Info("Bootstrap administrator created")
	return nil
}

func (h *AuthHandler) respondWithTokens(w http.ResponseWriter, status int, user *models.User) {
	token, err := h.authService.GenerateToken(user)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	refreshToken, err := h.authService.GenerateRefreshToken()
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, status, models.LoginResponse{
		Token:        token,
		RefreshToken: refreshToken,
		User:         *user,
	})
}

// GetProfile returns the current user's profile
func (h *AuthHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "User context not found")
		return
	}

	user, err := h.userCollection.FindUserByID(r.Context(), claims.UserID)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// ChangePassword changes the current user's password
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "User context not found")
		return
	}

	var passwordReq struct {
		CurrentPassword string `json:"current_password"`
		NewPassword     string `json:"new_password"`
	}
	if err := decodeJSON(r, &passwordReq); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "Invalid JSON")
		return
	}
	if passwordReq.CurrentPassword == "" || passwordReq.NewPassword == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "Current password and new password are required")
		return
	}
	if err := h.authService.ValidatePassword(passwordReq.NewPassword); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}

	user, err := h.userCollection.FindUserByID(r.Context(), claims.UserID)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	if !h.authService.CheckPassword(passwordReq.CurrentPassword, user.PasswordHash) {
		writeError(w, http.StatusUnauthorized, "unauthorized", "Current password is incorrect")
		return
	}

	newPasswordHash, err := h.authService.HashPassword(passwordReq.NewPassword)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	user.PasswordHash = newPasswordHash
	user.UpdatedAt = time.Now()
	if err := h.userCollection.UpdateUser(r.Context(), claims.UserID, *user); err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Password changed successfully"})
}

// ListUsers lists accounts, optionally restricted to one role (?role=obc).
func (h *AuthHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	role := models.Role(r.URL.Query().Get("role"))
	if role != "" && !models.IsValidRole(role) {
		writeError(w, http.StatusBadRequest, "invalid_input", "Invalid role")
		return
	}
	users, err := h.userCollection.FindUsers(r.Context(), role)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}
