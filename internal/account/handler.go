package account

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-account/internal/account/entity"
)

// Handler exposes HTTP endpoints for account operations.
type Handler struct {
	svc    *Service
	logger *zap.SugaredLogger
}

func NewHandler(svc *Service, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// RegisterResponse is the created account plus the instruction message.
type RegisterResponse struct {
	*entity.Account
	VerificationMessage string `json:"verificationMessage"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Debugw("invalid register payload", "err", err)
		h.writeJSON(w, http.StatusBadRequest, message("invalid payload"))
		return
	}
	res, err := h.svc.Register(r.Context(), req)
	if err != nil {
		h.writeError(w, r, "register failed", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, RegisterResponse{Account: res.Account, VerificationMessage: res.Message})
}

// AccountMessage pairs a success message with the affected account.
type AccountMessage struct {
	Message string          `json:"message"`
	User    *entity.Account `json:"user"`
}

func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	a, err := h.svc.VerifyByCode(r.Context(), r.PathValue("code"))
	if err != nil {
		h.writeError(w, r, "verify failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, AccountMessage{Message: "You have successfully been verified!", User: a})
}

func (h *Handler) CompleteRegistration(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	a, err := h.svc.CompleteRegistration(r.Context(), id)
	if err != nil {
		h.writeError(w, r, "complete registration failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, AccountMessage{Message: "You have successfully completed the registration!", User: a})
}

// LoginRequest login payload.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	User  *entity.Account `json:"user"`
	Token string          `json:"token"`
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Debugw("invalid login payload", "err", err)
		h.writeJSON(w, http.StatusBadRequest, message("invalid payload"))
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if err := validateStruct(h.svc.validate, req); err != nil {
		h.writeError(w, r, "invalid login payload", err)
		return
	}
	res, err := h.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeError(w, r, "login failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, LoginResponse{User: res.Account, Token: res.Token})
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	out, err := h.svc.List(r.Context(), limit, offset)
	if err != nil {
		h.writeError(w, r, "list failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, out)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	a, err := h.svc.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, "get failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, a)
}

// UpdateRequest is the administrative partial update body; absent fields are left alone.
type UpdateRequest struct {
	Username              *string      `json:"username"`
	Email                 *string      `json:"email"`
	Role                  *entity.Role `json:"role"`
	IsVerified            *bool        `json:"isVerified"`
	RegistrationCompleted *bool        `json:"registrationCompleted"`
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req UpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Debugw("invalid update payload", "err", err)
		h.writeJSON(w, http.StatusBadRequest, message("invalid payload"))
		return
	}
	a, err := h.svc.Update(r.Context(), id, entity.AccountUpdate{
		Username:              req.Username,
		Email:                 req.Email,
		Role:                  req.Role,
		IsVerified:            req.IsVerified,
		RegistrationCompleted: req.RegistrationCompleted,
	})
	if err != nil {
		h.writeError(w, r, "update failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, a)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if err := h.svc.Delete(r.Context(), id); err != nil {
		h.writeError(w, r, "delete failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		h.writeJSON(w, http.StatusBadRequest, message("invalid user id"))
		return 0, false
	}
	return id, true
}

// StatusFor maps service errors to HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, ErrWeakPassword),
		errors.Is(err, ErrInvalidEmailFormat), errors.Is(err, ErrInvalidCode):
		return http.StatusBadRequest
	case errors.Is(err, ErrDuplicateEmail), errors.Is(err, ErrDuplicateUsername),
		errors.Is(err, ErrAlreadyVerified):
		return http.StatusConflict
	case errors.Is(err, ErrAccountNotFound), errors.Is(err, ErrCodeNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, ErrAccountLocked):
		return http.StatusLocked
	case errors.Is(err, ErrRegistrationIncomplete):
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Errorw(msg, "path", r.URL.Path, "err", err)
		h.writeJSON(w, status, message("internal server error"))
		return
	}
	h.logger.Debugw(msg, "path", r.URL.Path, "err", err)
	var locked *LockedError
	if errors.As(err, &locked) {
		w.Header().Set("Retry-After", strconv.FormatInt(locked.Seconds(), 10))
	}
	h.writeJSON(w, status, message(err.Error()))
}

func message(s string) map[string]string { return map[string]string{"message": s} }

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
