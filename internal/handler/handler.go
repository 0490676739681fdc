package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/honeynil/pix-ledger/internal/infrastructure/auth"
	"github.com/honeynil/pix-ledger/internal/infrastructure/observability"
	"github.com/honeynil/pix-ledger/internal/models"
	service "github.com/honeynil/pix-ledger/internal/services"
	pkgerrors "github.com/honeynil/pix-ledger/pkg/errors"
	"github.com/shopspring/decimal"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw webhook body.
const SignatureHeader = "X-Webhook-Signature"

const maxWebhookBody = 1 << 20

type Handler struct {
	accounts service.AccountService
	payments service.PaymentService
	admin    service.AdminService
}

func NewHandler(accounts service.AccountService, payments service.PaymentService, admin service.AdminService) *Handler {
	return &Handler{accounts: accounts, payments: payments, admin: admin}
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, errorResponse{Error: err.Error()})
}

// fail maps a service error onto its HTTP status. Server-side failures get a
// generic message; the detail is only logged.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		observability.WithContext(r.Context()).Error("request failed", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
		message := "internal server error"
		if status == http.StatusBadGateway {
			message = pkgerrors.ErrProviderUnavailable.Error()
		}
		h.writeJSON(w, status, errorResponse{Error: message})
		return
	}
	h.writeError(w, status, err)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, pkgerrors.ErrInvalidAmount),
		errors.Is(err, pkgerrors.ErrInvalidPixKey),
		errors.Is(err, pkgerrors.ErrInvalidInput),
		errors.Is(err, pkgerrors.ErrInvalidPayload),
		errors.Is(err, pkgerrors.ErrInvalidTransactionStatus),
		errors.Is(err, pkgerrors.ErrInsufficientFunds),
		errors.Is(err, pkgerrors.ErrUserInactive),
		errors.Is(err, pkgerrors.ErrReferrerNotFound):
		return http.StatusBadRequest
	case errors.Is(err, pkgerrors.ErrInvalidSignature),
		errors.Is(err, pkgerrors.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, pkgerrors.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, pkgerrors.ErrUserNotFound),
		errors.Is(err, pkgerrors.ErrTransactionNotFound),
		errors.Is(err, pkgerrors.ErrSettingNotFound):
		return http.StatusNotFound
	case errors.Is(err, pkgerrors.ErrInvalidStatusTransition),
		errors.Is(err, pkgerrors.ErrWebhookInFlight),
		errors.Is(err, pkgerrors.ErrUserAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, pkgerrors.ErrProviderUnavailable):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (h *Handler) RegisterPublicRoutes(r *mux.Router) {
	r.HandleFunc("/register", h.Register).Methods(http.MethodPost)
	r.HandleFunc("/login", h.Login).Methods(http.MethodPost)
	r.HandleFunc("/webhooks/pix", h.PixWebhook).Methods(http.MethodPost)
}

func (h *Handler) RegisterProtectedRoutes(r *mux.Router) {
	r.HandleFunc("/deposits", h.CreateDeposit).Methods(http.MethodPost)
	r.HandleFunc("/deposits/{id:[0-9]+}", h.GetDeposit).Methods(http.MethodGet)
	r.HandleFunc("/withdrawals", h.RequestWithdrawal).Methods(http.MethodPost)
	r.HandleFunc("/balance", h.GetBalance).Methods(http.MethodGet)
	r.HandleFunc("/history", h.GetTransactionHistory).Methods(http.MethodGet)
}

func (h *Handler) RegisterAdminRoutes(r *mux.Router) {
	r.HandleFunc("/transactions/{id:[0-9]+}", h.PatchTransaction).Methods(http.MethodPatch)
	r.HandleFunc("/users/{id:[0-9]+}", h.EraseUser).Methods(http.MethodDelete)
	r.HandleFunc("/settings/{key}", h.UpdateSetting).Methods(http.MethodPut)
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req service.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	user, err := h.accounts.Register(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, user)
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	token, err := h.accounts.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// PixWebhook acknowledges every delivery it can classify with 200 so the
// provider stops retrying; only failures worth a retry get another status.
func (h *Handler) PixWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Errorf("%w: %v", pkgerrors.ErrInvalidPayload, err))
		return
	}

	outcome, err := h.payments.HandleWebhook(r.Context(), body, r.Header.Get(SignatureHeader))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "outcome": string(outcome)})
}

func (h *Handler) CreateDeposit(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, errors.New("user not authenticated"))
		return
	}

	var req struct {
		Amount decimal.Decimal `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Errorf("%w: %v", pkgerrors.ErrInvalidAmount, err))
		return
	}

	result, err := h.payments.CreateDeposit(r.Context(), claims.UserID, req.Amount)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, result)
}

func (h *Handler) GetDeposit(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, errors.New("user not authenticated"))
		return
	}
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	tx, err := h.payments.GetDeposit(r.Context(), claims.UserID, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, tx)
}

func (h *Handler) RequestWithdrawal(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, errors.New("user not authenticated"))
		return
	}

	var req service.WithdrawalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	result, err := h.payments.RequestWithdrawal(r.Context(), claims.UserID, req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, result)
}

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, errors.New("user not authenticated"))
		return
	}

	balance, err := h.accounts.GetBalance(r.Context(), claims.UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"balance": balance.StringFixed(2)})
}

func (h *Handler) GetTransactionHistory(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, errors.New("user not authenticated"))
		return
	}

	limit, err := queryInt(r, "limit")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	transactions, err := h.accounts.GetTransactionHistory(r.Context(), claims.UserID, limit, offset)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if transactions == nil {
		transactions = []models.Transaction{}
	}
	h.writeJSON(w, http.StatusOK, transactions)
}

func (h *Handler) PatchTransaction(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, errors.New("user not authenticated"))
		return
	}
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	var req struct {
		Status models.StatusType `json:"status"`
		Note   string            `json:"note"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	tx, err := h.admin.PatchTransaction(r.Context(), claims.UserID, id, req.Status, req.Note)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, tx)
}

func (h *Handler) EraseUser(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, errors.New("user not authenticated"))
		return
	}
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := h.admin.EraseUser(r.Context(), claims.UserID, id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) UpdateSetting(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Value string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	key := mux.Vars(r)["key"]
	if err := h.admin.UpdateSetting(r.Context(), key, req.Value); err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"key": key, "value": req.Value})
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid id", pkgerrors.ErrInvalidInput)
	}
	return id, nil
}

func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", pkgerrors.ErrInvalidInput, name)
	}
	return n, nil
}
