package grpc

import (
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/JoeShih716/go-transfer-ledger/internal/app/core/domain"
)

type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type RegisterResponse struct{}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token string `json:"token"`
}

type DepositRequest struct {
	Amount int64 `json:"amount"`
}

type DepositResponse struct {
	Balance int64 `json:"balance"`
}

type GetBalanceRequest struct{}

type GetBalanceResponse struct {
	Balance int64 `json:"balance"`
}

type TransferRequest struct {
	ToUser string `json:"to_user"`
	Amount int64  `json:"amount"`
}

// TransferResponse 餘額不足時 Success=false，不回傳 gRPC 錯誤
type TransferResponse struct {
	Success        bool         `json:"success"`
	Message        string       `json:"message,omitempty"`
	Transaction    *Transaction `json:"transaction,omitempty"`
	CurrentBalance int64        `json:"current_balance"`
}

type GetTransactionRequest struct {
	TransactionId string `json:"transaction_id"`
}

type GetTransactionResponse struct {
	Transaction *Transaction `json:"transaction"`
}

type ListTransactionsRequest struct{}

type ListTransactionsResponse struct {
	Transactions []*Transaction `json:"transactions"`
}

type Transaction struct {
	TransactionId string                 `json:"transaction_id"`
	FromUser      string                 `json:"from_user"`
	ToUser        string                 `json:"to_user"`
	Amount        int64                  `json:"amount"`
	CreatedAt     *timestamppb.Timestamp `json:"created_at"`
}

func toTransaction(tran *domain.Transaction) *Transaction {
	return &Transaction{
		TransactionId: tran.TransactionID.String(),
		FromUser:      tran.FromUser,
		ToUser:        tran.ToUser,
		Amount:        tran.Amount,
		CreatedAt:     timestamppb.New(tran.CreatedAt),
	}
}
