package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/JoeShih716/go-transfer-ledger/internal/app/auth"
	"github.com/JoeShih716/go-transfer-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-transfer-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-transfer-ledger/pkg/logger"
)

const maxBodyBytes = 1 << 20

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type depositRequest struct {
	DepositAmount int64 `json:"deposit_amount"`
}

type transferRequest struct {
	ToUser string `json:"to_user"`
	Amount int64  `json:"amount"`
}

type balanceResponse struct {
	Username string `json:"username"`
	Balance  int64  `json:"balance"`
}

type transactionResponse struct {
	TransactionID string    `json:"transaction_id"`
	FromUser      string    `json:"from_user"`
	ToUser        string    `json:"to_user"`
	Amount        int64     `json:"amount"`
	CreatedAt     time.Time `json:"created_at"`
}

func toResponse(tran *domain.Transaction) transactionResponse {
	return transactionResponse{
		TransactionID: tran.TransactionID.String(),
		FromUser:      tran.FromUser,
		ToUser:        tran.ToUser,
		Amount:        tran.Amount,
		CreatedAt:     tran.CreatedAt,
	}
}

// Handler 把 HTTP 請求轉成 use case 呼叫
type Handler struct {
	core  *usecase.CoreUseCase
	users *usecase.UserUseCase
	log   *logger.Logger
}

func NewHandler(core *usecase.CoreUseCase, users *usecase.UserUseCase, log *logger.Logger) *Handler {
	return &Handler{core: core, users: users, log: log}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// username 經過 authenticate 之後一定存在
func username(r *http.Request) string {
	u, _ := auth.UsernameFrom(r.Context())
	return u
}

func (h *Handler) signup(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.users.Register(r.Context(), req.Username, req.Password); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"username": req.Username})
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decode(w, r, &req) {
		return
	}
	token, err := h.users.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (h *Handler) whoami(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"username": username(r)})
}

func (h *Handler) getBalance(w http.ResponseWriter, r *http.Request) {
	user := username(r)
	balance, err := h.core.GetBalance(r.Context(), user)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{Username: user, Balance: balance})
}

func (h *Handler) deposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if !decode(w, r, &req) {
		return
	}
	user := username(r)
	balance, err := h.core.Deposit(r.Context(), user, req.DepositAmount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{Username: user, Balance: balance})
}

// transfer 餘額不足回 402，交易沒有任何副作用
func (h *Handler) transfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if !decode(w, r, &req) {
		return
	}
	tran, ok, err := h.core.Transfer(r.Context(), username(r), req.ToUser, req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeMessage(w, http.StatusPaymentRequired, domain.ErrInsufficientBalance.Error())
		return
	}
	writeJSON(w, http.StatusOK, toResponse(tran))
}

func (h *Handler) getTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid transaction id")
		return
	}
	tran, err := h.core.GetTransaction(r.Context(), username(r), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(tran))
}

func (h *Handler) listTransactions(w http.ResponseWriter, r *http.Request) {
	trans, err := h.core.ListTransactions(r.Context(), username(r))
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]transactionResponse, 0, len(trans))
	for _, tran := range trans {
		out = append(out, toResponse(tran))
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": out})
}

func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func notFound(w http.ResponseWriter, r *http.Request) {
	writeMessage(w, http.StatusNotFound, "route not found")
}
