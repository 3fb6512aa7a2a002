package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/Nzyazin/walletd/internal/core/logger"
	"github.com/Nzyazin/walletd/internal/core/models"
	"github.com/Nzyazin/walletd/internal/core/repository"
	"github.com/Nzyazin/walletd/internal/core/usecase"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
)

type WalletHandler struct {
	usecase         usecase.LedgerUsecase
	defaultCurrency string
	log             logger.Logger
}

var amountRegexp = regexp.MustCompile(`^\s*-?\d{1,9}([.,]\d{1,2})?\s*$`)

func NewWalletHandler(uc usecase.LedgerUsecase, defaultCurrency string, log logger.Logger) *WalletHandler {
	return &WalletHandler{usecase: uc, defaultCurrency: defaultCurrency, log: log}
}

func (h *WalletHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/v1/wallet/balance", h.GetBalance).Methods("GET")
	router.HandleFunc("/api/v1/wallet/balance", h.SetBalance).Methods("POST")
	router.HandleFunc("/api/v1/wallet/deposit", h.Deposit).Methods("POST")
	router.HandleFunc("/api/v1/wallet/withdraw", h.Withdraw).Methods("POST")
	router.HandleFunc("/api/v1/wallet/transfer", h.Transfer).Methods("POST")
	router.HandleFunc("/api/v1/wallet/transactions", h.ListTransactions).Methods("GET")
	router.HandleFunc("/api/v1/wallet/transactions/by-reference", h.TransactionsByReference).Methods("GET")
	router.HandleFunc("/api/v1/wallet/transactions/finalize", h.FinalizeBatch).Methods("POST")
	router.HandleFunc("/api/v1/wallet/transactions/{id}/finalize", h.Finalize).Methods("POST")
	router.HandleFunc("/api/v1/wallet/transactions/{id}/cancel", h.Cancel).Methods("POST")
	router.HandleFunc("/api/v1/wallet/total", h.TotalBalance).Methods("GET")
}

type operationRequest struct {
	OwnerID    string `json:"ownerId"`
	DebtorID   string `json:"debtorId"`
	CreditorID string `json:"creditorId"`
	Amount     string `json:"amount"`
	Currency   string `json:"currency"`
	Reference  string `json:"reference"`
}

type transactionResponse struct {
	ID        uuid.UUID                `json:"id"`
	WalletID  uuid.UUID                `json:"wallet_id"`
	Amount    string                   `json:"amount"`
	Currency  string                   `json:"currency"`
	Direction models.Direction         `json:"direction"`
	Status    models.TransactionStatus `json:"status"`
	Reference string                   `json:"reference,omitempty"`
}

type balanceResponse struct {
	WalletID uuid.UUID `json:"wallet_id"`
	OwnerID  string    `json:"owner_id"`
	Balance  string    `json:"balance"`
	Currency string    `json:"currency"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *WalletHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	ownerID := r.URL.Query().Get("owner_id")
	if ownerID == "" {
		respondWithError(w, http.StatusBadRequest, "owner_id is required")
		return
	}
	currency := h.currencyOrDefault(r.URL.Query().Get("currency"))
	cached := r.URL.Query().Get("cached") != "false"

	wallet, balance, err := h.usecase.GetBalance(r.Context(), ownerID, currency, cached)
	if err != nil {
		h.handleOperationError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, balanceResponse{
		WalletID: wallet.ID,
		OwnerID:  wallet.OwnerID,
		Balance:  balance.Amount.StringFixedBank(2),
		Currency: balance.Currency,
	})
}

func (h *WalletHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	req, amount, ok := h.decodeOperation(w, r)
	if !ok {
		return
	}
	trx, err := h.usecase.Deposit(r.Context(), req.OwnerID, amount, req.Reference)
	if err != nil {
		h.handleOperationError(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, toTransactionResponse(trx))
}

func (h *WalletHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	req, amount, ok := h.decodeOperation(w, r)
	if !ok {
		return
	}
	trx, err := h.usecase.Withdraw(r.Context(), req.OwnerID, amount, req.Reference)
	if err != nil {
		h.handleOperationError(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, toTransactionResponse(trx))
}

func (h *WalletHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	req, err := h.decodeRequest(w, r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.DebtorID == "" || req.CreditorID == "" {
		respondWithError(w, http.StatusBadRequest, "debtorId and creditorId are required")
		return
	}
	amount, err := h.parseAmount(req.Amount, h.currencyOrDefault(req.Currency))
	if err != nil {
		h.log.Warn("Invalid amount", logger.StringField("amount", req.Amount), logger.ErrorField("error", err))
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	withdrawal, deposit, err := h.usecase.Transfer(r.Context(), req.DebtorID, req.CreditorID, amount, req.Reference)
	if err != nil {
		h.handleOperationError(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, map[string]transactionResponse{
		"withdrawal": toTransactionResponse(withdrawal),
		"deposit":    toTransactionResponse(deposit),
	})
}

func (h *WalletHandler) SetBalance(w http.ResponseWriter, r *http.Request) {
	req, err := h.decodeRequest(w, r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.OwnerID == "" {
		respondWithError(w, http.StatusBadRequest, "ownerId is required")
		return
	}
	target, err := h.parseSignedAmount(req.Amount, h.currencyOrDefault(req.Currency))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	trx, delta, err := h.usecase.SetBalance(r.Context(), req.OwnerID, target, req.Reference)
	if err != nil {
		h.handleOperationError(w, err)
		return
	}
	response := map[string]interface{}{
		"delta":    delta.Amount.StringFixedBank(2),
		"currency": delta.Currency,
	}
	if trx != nil {
		response["transaction"] = toTransactionResponse(trx)
	}
	respondWithJSON(w, http.StatusOK, response)
}

func (h *WalletHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	ownerID := r.URL.Query().Get("owner_id")
	if ownerID == "" {
		respondWithError(w, http.StatusBadRequest, "owner_id is required")
		return
	}
	currency := h.currencyOrDefault(r.URL.Query().Get("currency"))

	filter := repository.TransactionFilter{}
	if raw := r.URL.Query().Get("status"); raw != "" {
		status := models.TransactionStatus(strings.ToUpper(raw))
		if !models.ValidTransactionStatus(status) {
			respondWithError(w, http.StatusBadRequest, "invalid status")
			return
		}
		filter.Status = &status
	}
	if raw := r.URL.Query().Get("direction"); raw != "" {
		direction := models.Direction(strings.ToUpper(raw))
		if !models.ValidDirection(direction) {
			respondWithError(w, http.StatusBadRequest, "invalid direction")
			return
		}
		filter.Direction = &direction
	}
	filter.Start = parseIntOrZero(r.URL.Query().Get("start"))
	filter.Limit = parseIntOrZero(r.URL.Query().Get("limit"))

	trxs, err := h.usecase.ListTransactions(r.Context(), ownerID, currency, filter)
	if err != nil {
		h.handleOperationError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, toTransactionResponses(trxs))
}

func (h *WalletHandler) TransactionsByReference(w http.ResponseWriter, r *http.Request) {
	reference := r.URL.Query().Get("reference")
	if reference == "" {
		respondWithError(w, http.StatusBadRequest, "reference is required")
		return
	}
	trxs, err := h.usecase.TransactionsByReference(r.Context(), reference)
	if err != nil {
		h.handleOperationError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, toTransactionResponses(trxs))
}

func (h *WalletHandler) Finalize(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid transaction id")
		return
	}
	trx, err := h.usecase.FinalizeTransaction(r.Context(), id, h.decodeReference(w, r))
	if err != nil {
		h.handleOperationError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, toTransactionResponse(trx))
}

func (h *WalletHandler) FinalizeBatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs       []uuid.UUID `json:"ids"`
		Reference string      `json:"reference"`
	}
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request payload")
		return
	}
	defer r.Body.Close()
	if len(req.IDs) == 0 {
		respondWithError(w, http.StatusBadRequest, "ids are required")
		return
	}

	trxs, err := h.usecase.FinalizeTransactions(r.Context(), req.IDs, req.Reference)
	if err != nil {
		h.handleOperationError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, toTransactionResponses(trxs))
}

func (h *WalletHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid transaction id")
		return
	}
	trx, err := h.usecase.CancelTransaction(r.Context(), id, h.decodeReference(w, r))
	if err != nil {
		h.handleOperationError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, toTransactionResponse(trx))
}

func (h *WalletHandler) TotalBalance(w http.ResponseWriter, r *http.Request) {
	currency := h.currencyOrDefault(r.URL.Query().Get("currency"))
	var exclude []string
	if raw := r.URL.Query().Get("exclude"); raw != "" {
		exclude = strings.Split(raw, ",")
	}

	total, err := h.usecase.TotalBalance(r.Context(), currency, exclude)
	if err != nil {
		h.handleOperationError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{
		"total":    total.Amount.StringFixedBank(2),
		"currency": total.Currency,
	})
}

func (h *WalletHandler) decodeOperation(w http.ResponseWriter, r *http.Request) (*operationRequest, models.Money, bool) {
	req, err := h.decodeRequest(w, r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return nil, models.Money{}, false
	}
	if req.OwnerID == "" {
		respondWithError(w, http.StatusBadRequest, "ownerId is required")
		return nil, models.Money{}, false
	}
	amount, err := h.parseAmount(req.Amount, h.currencyOrDefault(req.Currency))
	if err != nil {
		h.log.Warn("Invalid amount", logger.StringField("amount", req.Amount), logger.ErrorField("error", err))
		respondWithError(w, http.StatusBadRequest, err.Error())
		return nil, models.Money{}, false
	}
	return req, amount, true
}

// decodeReference reads the optional secondary reference recorded on a
// finalize or cancel status event. The body may be empty or absent.
func (h *WalletHandler) decodeReference(w http.ResponseWriter, r *http.Request) string {
	var req struct {
		Reference string `json:"reference"`
	}
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return ""
	}
	return req.Reference
}

func (h *WalletHandler) decodeRequest(w http.ResponseWriter, r *http.Request) (*operationRequest, error) {
	var req operationRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log.Warn("Failed to decode request body", logger.ErrorField("error", err))
		return nil, fmt.Errorf("invalid request payload")
	}
	defer r.Body.Close()
	return &req, nil
}

// parseAmount validates and rounds a positive amount. Rounding to two
// decimal places happens here, once, at the boundary.
func (h *WalletHandler) parseAmount(amountStr, currency string) (models.Money, error) {
	money, err := h.parseSignedAmount(amountStr, currency)
	if err != nil {
		return models.Money{}, err
	}
	if !money.IsPositive() {
		return models.Money{}, fmt.Errorf("amount must be positive")
	}
	return money, nil
}

func (h *WalletHandler) parseSignedAmount(amountStr, currency string) (models.Money, error) {
	cleaned := strings.ReplaceAll(strings.ReplaceAll(amountStr, " ", ""), ",", ".")

	if !amountRegexp.MatchString(cleaned) {
		return models.Money{}, fmt.Errorf("invalid amount format: %s", cleaned)
	}

	amount, err := decimal.NewFromString(cleaned)
	if err != nil {
		return models.Money{}, fmt.Errorf("could not parse amount: %v", err)
	}

	return models.NewMoney(amount.Round(2), currency), nil
}

func (h *WalletHandler) currencyOrDefault(currency string) string {
	if currency == "" {
		return h.defaultCurrency
	}
	return strings.ToUpper(currency)
}

func (h *WalletHandler) handleOperationError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, usecase.ErrInvalidAmount):
		respondWithError(w, http.StatusBadRequest, "amount must be positive")
	case errors.Is(err, usecase.ErrInsufficientFunds):
		respondWithError(w, http.StatusBadRequest, "insufficient funds")
	case errors.Is(err, usecase.ErrInvalidTransition):
		respondWithError(w, http.StatusConflict, "invalid status transition")
	case errors.Is(err, usecase.ErrWalletNotFound):
		respondWithError(w, http.StatusNotFound, "wallet not found")
	case errors.Is(err, usecase.ErrTransactionNotFound):
		respondWithError(w, http.StatusNotFound, "transaction not found")
	default:
		h.log.Error("Failed to process operation", logger.ErrorField("error", err))
		respondWithError(w, http.StatusInternalServerError, "failed to process operation")
	}
}

func toTransactionResponse(trx *models.WalletTransaction) transactionResponse {
	return transactionResponse{
		ID:        trx.ID,
		WalletID:  trx.WalletID,
		Amount:    trx.Amount.Amount.StringFixedBank(2),
		Currency:  trx.Amount.Currency,
		Direction: trx.Direction(),
		Status:    trx.CurrentStatus(),
		Reference: trx.Reference,
	}
}

func toTransactionResponses(trxs []*models.WalletTransaction) []transactionResponse {
	result := make([]transactionResponse, 0, len(trxs))
	for _, trx := range trxs {
		result = append(result, toTransactionResponse(trx))
	}
	return result
}

func parseIntOrZero(raw string) int {
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return 0
	}
	return value
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, errorResponse{Error: message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"Internal Server Error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
