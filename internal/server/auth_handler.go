package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"github.com/jonathan/resume-builder/internal/server/middleware"
	"github.com/jonathan/resume-builder/internal/types"
)

// AuthHandler handles authentication-related HTTP requests.
type AuthHandler struct {
	userService  *UserService
	jwtService   *JWTService
	validator    *validator.Validate
	cookieSecure bool
}

// NewAuthHandler creates a new AuthHandler with the given dependencies.
func NewAuthHandler(userService *UserService, jwtService *JWTService, cookieSecure bool) *AuthHandler {
	return &AuthHandler{
		userService:  userService,
		jwtService:   jwtService,
		validator:    newValidator(),
		cookieSecure: cookieSecure,
	}
}

// Signup handles account creation requests.
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req types.SignupRequest
	if !h.decode(w, r, &req) {
		return
	}

	user, err := h.userService.Signup(r.Context(), &req)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.issue(w, http.StatusCreated, user)
}

// Login handles user login requests.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req types.LoginRequest
	if !h.decode(w, r, &req) {
		return
	}

	user, err := h.userService.Login(r.Context(), &req)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.issue(w, http.StatusOK, user)
}

// Logout clears the access token cookie. Issued tokens stay valid until they expire.
func (h *AuthHandler) Logout(w http.ResponseWriter, _ *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

// Me returns the authenticated user's profile.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.GetUserID(r)
	if err != nil {
		h.fail(w, &ErrUnauthenticated{})
		return
	}
	user, err := h.userService.Me(r.Context(), userID)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// issue signs a token for user and returns it in the body and the access_token cookie
func (h *AuthHandler) issue(w http.ResponseWriter, status int, user *types.User) {
	token, err := h.jwtService.GenerateToken(user.ID, user.Email)
	if err != nil {
		log.Error().Err(err).Str("user_id", user.ID.String()).Msg("failed to generate token")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to generate token"})
		return
	}

	lifetime := h.jwtService.Lifetime()
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(lifetime.Seconds()),
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, status, types.LoginResponse{
		User:        user,
		AccessToken: token,
		TokenType:   "bearer",
	})
}

func (h *AuthHandler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := readJSON(w, r, v); err != nil {
		h.fail(w, err)
		return false
	}
	if err := h.validator.Struct(v); err != nil {
		h.fail(w, validationError(err))
		return false
	}
	return true
}

func (h *AuthHandler) fail(w http.ResponseWriter, err error) {
	status := HTTPStatus(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Msg("auth request failed")
		message = "internal server error"
	}
	writeJSON(w, status, map[string]string{"error": message})
}

// validationError converts validator errors into an ErrValidation for the first failing field.
func validationError(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) && len(validationErrors) > 0 {
		ve := validationErrors[0]
		return &ErrValidation{Field: ve.Field(), Message: ve.Tag()}
	}
	return &ErrValidation{Message: "invalid request"}
}
