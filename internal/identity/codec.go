package identity

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
)

// codecName はgRPCのcontent-subtypeとして使うコーデック名。
// リクエストは application/grpc+json として送信される。
const codecName = "json"

// jsonCodec はメッセージをJSONでエンコードするgRPCコーデック。
// アイデンティティサービスとの間でprotoc生成コードを共有せずに済む。
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}
	return b, nil
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal message: %w", err)
	}
	return nil
}

func (jsonCodec) Name() string {
	return codecName
}

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
