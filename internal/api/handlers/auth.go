// auth.go — обработчики /api/auth: выдача и проверка OTP, текущий пользователь.
package handlers

import (
	"net/http"
	"strings"

	apierrors "github.com/bigkaa/docview/internal/api/errors"
	"github.com/bigkaa/docview/internal/api/middleware"
	"github.com/bigkaa/docview/internal/service"
)

type sendOtpRequest struct {
	Email          string  `json:"email"`
	Name           *string `json:"name"`
	IsRegistration bool    `json:"isRegistration"`
}

type verifyOtpRequest struct {
	Email string `json:"email"`
	OTP   string `json:"otp"`
}

type verifyUser struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

type verifyOtpResponse struct {
	Token string     `json:"token"`
	User  verifyUser `json:"user"`
}

// SendOtp — POST /api/auth/send-otp.
func (h *APIHandler) SendOtp(w http.ResponseWriter, r *http.Request) {
	var req sendOtpRequest
	if err := decodeJSON(r, &req); err != nil {
		apierrors.ValidationError(w, "Некорректное тело запроса")
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		apierrors.ValidationError(w, "Email обязателен")
		return
	}

	err := h.auth.IssueOtp(r.Context(), service.IssueOtpRequest{
		Email:          req.Email,
		Name:           req.Name,
		IsRegistration: req.IsRegistration,
	})
	if err != nil {
		h.writeServiceError(w, r, err, "send_otp")
		return
	}

	writeJSON(w, http.StatusOK, ackResponse{Msg: "OTP sent successfully"})
}

// VerifyOtp — POST /api/auth/verify-otp.
func (h *APIHandler) VerifyOtp(w http.ResponseWriter, r *http.Request) {
	var req verifyOtpRequest
	if err := decodeJSON(r, &req); err != nil {
		apierrors.ValidationError(w, "Некорректное тело запроса")
		return
	}
	if strings.TrimSpace(req.Email) == "" || strings.TrimSpace(req.OTP) == "" {
		apierrors.ValidationError(w, "Email и код обязательны")
		return
	}

	res, err := h.auth.VerifyOtp(r.Context(), req.Email, strings.TrimSpace(req.OTP))
	if err != nil {
		h.writeServiceError(w, r, err, "verify_otp")
		return
	}

	writeJSON(w, http.StatusOK, verifyOtpResponse{
		Token: res.Token,
		User:  verifyUser{Email: res.Identity.Email, Role: res.Identity.Role},
	})
}

// Me — GET /api/auth/me. Полная запись пользователя из хранилища.
func (h *APIHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		apierrors.Unauthorized(w, "Требуется аутентификация")
		return
	}

	identity, err := h.auth.GetCurrentIdentity(r.Context(), claims.Email)
	if err != nil {
		h.writeServiceError(w, r, err, "me")
		return
	}
	writeJSON(w, http.StatusOK, identity)
}
