package judge

import "encoding/json"

// jsonCodec lets Connect carry plain Go structs. The judge exposes a JSON
// contract, so there are no generated protobuf types to lean on.
type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
