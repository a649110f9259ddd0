package gmail

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// PushEnvelope Pub/Sub 推送请求体
type PushEnvelope struct {
	Message struct {
		Data      string `json:"data"`
		MessageID string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// PushNotification Gmail watch 推送内容
type PushNotification struct {
	EmailAddress string `json:"emailAddress"`
	HistoryID    uint64 `json:"historyId"`
}

// DecodePush 解出推送中的邮箱地址与 historyId
func DecodePush(env PushEnvelope) (*PushNotification, error) {
	if env.Message.Data == "" {
		return nil, fmt.Errorf("push message has no data")
	}
	raw, err := base64.StdEncoding.DecodeString(env.Message.Data)
	if err != nil {
		if raw, err = decodeBase64URL(env.Message.Data); err != nil {
			return nil, fmt.Errorf("invalid push data: %w", err)
		}
	}
	var n PushNotification
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil, fmt.Errorf("invalid push payload: %w", err)
	}
	n.EmailAddress = strings.ToLower(strings.TrimSpace(n.EmailAddress))
	if n.EmailAddress == "" {
		return nil, fmt.Errorf("push payload missing emailAddress")
	}
	return &n, nil
}
