package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/jwtauth/v5"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jinzhu/copier"
	"github.com/tendant/simple-verify/pkg/account"
	"github.com/tendant/simple-verify/pkg/emailverification"
	"github.com/tendant/simple-verify/pkg/ratelimit"
)

const genericResendMessage = "If the address belongs to an unverified account, a new verification email is on its way"

// Handler serves the account verification endpoints
type Handler struct {
	service      *emailverification.Service
	validate     *validator.Validate
	emailLimiter ratelimit.Limiter
	ipLimiter    ratelimit.Limiter
}

// HandlerOption configures a Handler
type HandlerOption func(*Handler)

// WithEmailLimiter limits resend requests per email address
func WithEmailLimiter(l ratelimit.Limiter) HandlerOption {
	return func(h *Handler) {
		h.emailLimiter = l
	}
}

// WithIPLimiter limits resend requests per client IP
func WithIPLimiter(l ratelimit.Limiter) HandlerOption {
	return func(h *Handler) {
		h.ipLimiter = l
	}
}

// NewHandler creates a new email verification API handler
func NewHandler(service *emailverification.Service, opts ...HandlerOption) *Handler {
	h := &Handler{
		service:  service,
		validate: validator.New(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes mounts the endpoints on r. tokenAuth verifies bearer tokens.
func (h *Handler) Routes(r chi.Router, tokenAuth *jwtauth.JWTAuth) {
	r.Post("/accounts", h.Register)
	r.Get("/verify/{token}", h.VerifyEmail)

	r.Group(func(r chi.Router) {
		r.Use(jwtauth.Verifier(tokenAuth))
		if h.ipLimiter != nil {
			r.Use(ratelimit.NewMiddleware(h.ipLimiter, ratelimit.ClientIP, "ip").Handler)
		}
		r.Post("/verify/resend", h.ResendVerification)
	})

	r.Group(func(r chi.Router) {
		r.Use(jwtauth.Verifier(tokenAuth))
		r.Use(jwtauth.Authenticator(tokenAuth))
		r.Get("/accounts/{id}/verification", h.GetVerificationStatus)
	})
}

// Register handles POST /accounts
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		renderError(w, r, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		renderError(w, r, http.StatusBadRequest, "invalid_request", validationMessage(err))
		return
	}

	acct, err := h.service.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, account.ErrAccountExists):
			renderError(w, r, http.StatusConflict, "account_exists", "An account with this email already exists")
		case errors.Is(err, account.ErrInvalidEmail):
			renderError(w, r, http.StatusBadRequest, "invalid_request", "Email is required")
		default:
			slog.Error("Failed to register account", "error", err)
			renderError(w, r, http.StatusInternalServerError, "internal_error", "An error occurred while creating the account")
		}
		return
	}

	var resp AccountResponse
	if err := copier.Copy(&resp, acct); err != nil {
		slog.Error("Failed to map account", "error", err)
		renderError(w, r, http.StatusInternalServerError, "internal_error", "An error occurred while creating the account")
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, resp)
}

// VerifyEmail handles GET /verify/{token}
func (h *Handler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	acct, err := h.service.Verify(r.Context(), token)
	if err != nil {
		switch {
		case errors.Is(err, emailverification.ErrTokenNotFound):
			renderError(w, r, http.StatusNotFound, "token_not_found", "Invalid verification link")
		case errors.Is(err, emailverification.ErrTokenExpired):
			renderError(w, r, http.StatusGone, "token_expired", "Verification link has expired, request a new one")
		case errors.Is(err, emailverification.ErrTokenAlreadyConsumed):
			renderError(w, r, http.StatusConflict, "token_already_consumed", "Verification link has already been used")
		default:
			slog.Error("Failed to verify email", "error", err)
			renderError(w, r, http.StatusInternalServerError, "internal_error", "An error occurred while verifying email")
		}
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, VerifyEmailResponse{
		Status:     string(emailverification.StateVerified),
		Message:    "Email verified successfully",
		VerifiedAt: acct.VerifiedAt,
	})
}

// ResendVerification handles POST /verify/resend. A bearer token selects the
// account directly; otherwise the body's email is used and the response never
// reveals whether the account exists.
func (h *Handler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	accountID, authErr := accountIDFromContext(r.Context())
	if authErr == nil {
		h.resendForAccount(w, r, accountID)
		return
	}
	if !errors.Is(authErr, jwtauth.ErrNoTokenFound) {
		renderError(w, r, http.StatusUnauthorized, "unauthorized", "Unauthorized")
		return
	}

	var req ResendVerificationRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		renderError(w, r, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		renderError(w, r, http.StatusBadRequest, "invalid_request", validationMessage(err))
		return
	}

	email := account.NormalizeEmail(req.Email)
	if h.emailLimiter != nil {
		allowed, err := h.emailLimiter.Allow(r.Context(), "email:"+email)
		if err != nil {
			slog.Error("Rate limiter unavailable", "type", "email", "error", err)
		} else if !allowed {
			ratelimit.Exceeded(w, r, "email")
			return
		}
	}

	err := h.service.ResendByEmail(r.Context(), email)
	switch {
	case err == nil,
		errors.Is(err, emailverification.ErrAccountNotFound),
		errors.Is(err, emailverification.ErrAccountAlreadyVerified):
	default:
		slog.Error("Failed to resend verification email", "error", err)
	}

	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, ResendVerificationResponse{Message: genericResendMessage})
}

func (h *Handler) resendForAccount(w http.ResponseWriter, r *http.Request, accountID uuid.UUID) {
	if h.emailLimiter != nil {
		allowed, err := h.emailLimiter.Allow(r.Context(), "account:"+accountID.String())
		if err != nil {
			slog.Error("Rate limiter unavailable", "type", "account", "error", err)
		} else if !allowed {
			ratelimit.Exceeded(w, r, "account")
			return
		}
	}

	_, err := h.service.Resend(r.Context(), accountID)
	if err != nil {
		switch {
		case errors.Is(err, emailverification.ErrAccountNotFound):
			renderError(w, r, http.StatusNotFound, "account_not_found", "Account not found")
		case errors.Is(err, emailverification.ErrAccountAlreadyVerified):
			renderError(w, r, http.StatusConflict, "account_already_verified", "Email is already verified")
		default:
			slog.Error("Failed to resend verification email", "account_id", accountID, "error", err)
			renderError(w, r, http.StatusInternalServerError, "internal_error", "An error occurred while sending verification email")
		}
		return
	}

	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, ResendVerificationResponse{Message: "Verification email sent"})
}

// GetVerificationStatus handles GET /accounts/{id}/verification
func (h *Handler) GetVerificationStatus(w http.ResponseWriter, r *http.Request) {
	accountID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		renderError(w, r, http.StatusBadRequest, "invalid_request", "Invalid account id")
		return
	}

	callerID, err := accountIDFromContext(r.Context())
	if err != nil {
		renderError(w, r, http.StatusUnauthorized, "unauthorized", "Unauthorized")
		return
	}
	if callerID != accountID {
		renderError(w, r, http.StatusForbidden, "forbidden", "Forbidden")
		return
	}

	status, err := h.service.Status(r.Context(), accountID)
	if err != nil {
		if errors.Is(err, emailverification.ErrAccountNotFound) {
			renderError(w, r, http.StatusNotFound, "account_not_found", "Account not found")
			return
		}
		slog.Error("Failed to get verification status", "account_id", accountID, "error", err)
		renderError(w, r, http.StatusInternalServerError, "internal_error", "An error occurred while retrieving verification status")
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, VerificationStatusResponse{
		State:      string(status.State),
		ExpiresAt:  status.ExpiresAt,
		VerifiedAt: status.VerifiedAt,
	})
}

// accountIDFromContext reads the account id from the "sub" or "user_id" claim
func accountIDFromContext(ctx context.Context) (uuid.UUID, error) {
	token, claims, err := jwtauth.FromContext(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	if token == nil {
		return uuid.Nil, jwtauth.ErrNoTokenFound
	}

	for _, key := range []string{"sub", "user_id"} {
		if s, ok := claims[key].(string); ok && s != "" {
			return uuid.Parse(s)
		}
	}
	return uuid.Nil, errors.New("account id not found in JWT claims")
}

func renderError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{Error: code, Message: message})
}

func validationMessage(err error) string {
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) || len(validationErrs) == 0 {
		return "Invalid request"
	}
	fe := validationErrs[0]
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "email":
		return fe.Field() + " must be a valid email address"
	case "min":
		return fe.Field() + " must be at least " + fe.Param() + " characters"
	default:
		return fe.Field() + " is invalid"
	}
}
