package grpc

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// CodecName 對應 content-subtype，client 以 grpc.CallContentSubtype(CodecName) 選用
const CodecName = "json"

// jsonCodec 讓 LedgerService 的訊息以 JSON 在 gRPC 上傳輸
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return CodecName
}

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
