package messaging

import (
	"encoding/json"
	"strconv"
	"time"
)

// envelope 消息的线上格式；时间戳为纳秒
type envelope struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
	Metadata  map[string]any  `json:"metadata"`
}

// Marshal 将消息编码为单个 JSON 文档
func Marshal(msg IMessage) ([]byte, error) {
	payload, err := json.Marshal(msg.GetPayload())
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{
		ID:        msg.GetID(),
		Type:      msg.GetType(),
		Timestamp: timestampOf(msg).UnixNano(),
		Payload:   payload,
		Metadata:  metadataOf(msg),
	})
}

// Unmarshal 解码 Marshal 的输出；Payload 解码为通用的 map/slice/float64
func Unmarshal(data []byte) (*Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	var payload any
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			return nil, err
		}
	}
	if env.Metadata == nil {
		env.Metadata = make(map[string]any)
	}
	return &Message{
		ID:        env.ID,
		Type:      env.Type,
		Timestamp: time.Unix(0, env.Timestamp),
		Payload:   payload,
		Metadata:  env.Metadata,
	}, nil
}

// EncodeFields 将消息展开为扁平字段（payload、metadata 各自为 JSON 字符串），用于 Redis Streams 一类的键值载体
func EncodeFields(msg IMessage) (map[string]any, error) {
	payload, err := json.Marshal(msg.GetPayload())
	if err != nil {
		return nil, err
	}
	metadata, err := json.Marshal(metadataOf(msg))
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"id":        msg.GetID(),
		"type":      msg.GetType(),
		"timestamp": timestampOf(msg).UnixNano(),
		"payload":   string(payload),
		"metadata":  string(metadata),
	}, nil
}

// DecodeFields EncodeFields 的逆过程；缺少 id 时使用 fallbackID
func DecodeFields(values map[string]any, fallbackID string) (*Message, error) {
	id, _ := values["id"].(string)
	msgType, _ := values["type"].(string)
	payloadRaw, _ := values["payload"].(string)
	metadataRaw, _ := values["metadata"].(string)

	var payload any
	if payloadRaw != "" {
		if err := json.Unmarshal([]byte(payloadRaw), &payload); err != nil {
			return nil, err
		}
	}
	metadata := make(map[string]any)
	if metadataRaw != "" {
		if err := json.Unmarshal([]byte(metadataRaw), &metadata); err != nil {
			return nil, err
		}
	}

	ts := time.Now()
	switch v := values["timestamp"].(type) {
	case int64:
		ts = time.Unix(0, v)
	case string:
		if ns, err := strconv.ParseInt(v, 10, 64); err == nil {
			ts = time.Unix(0, ns)
		}
	}
	if id == "" {
		id = fallbackID
	}
	return &Message{ID: id, Type: msgType, Timestamp: ts, Payload: payload, Metadata: metadata}, nil
}

func timestampOf(msg IMessage) time.Time {
	if ts := msg.GetTimestamp(); !ts.IsZero() {
		return ts
	}
	return time.Now()
}

func metadataOf(msg IMessage) map[string]any {
	if md := msg.GetMetadata(); md != nil {
		return md
	}
	return make(map[string]any)
}
