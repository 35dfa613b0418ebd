package domain

import "errors"

// ErrRequestInFlight 相同 Idempotency-Key 的請求還在處理中
var ErrRequestInFlight = errors.New("request with this idempotency key is in flight")

// IdempotencyRecord 已完成請求的回應，相同 key 重送時原樣回放
type IdempotencyRecord struct {
	Pending bool   `json:"pending,omitempty"`
	Status  int    `json:"status,omitempty"`
	Body    []byte `json:"body,omitempty"`
}
