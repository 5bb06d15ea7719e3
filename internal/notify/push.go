package notify

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// ErrMalformed marks a payload that is not a Gmail push notification.
// Such payloads are ignored rather than treated as failures.
var ErrMalformed = errors.New("malformed push payload")

// Push is a decoded Pub/Sub push delivery of a Gmail change notification
type Push struct {
	MessageID    string
	Email        string
	HistoryID    uint64
	Subscription string
	Published    time.Time
}

type envelope struct {
	Message *struct {
		MessageID   string `json:"messageId"`
		Data        string `json:"data"`
		PublishTime string `json:"publishTime"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

type gmailData struct {
	EmailAddress string    `json:"emailAddress"`
	HistoryID    historyID `json:"historyId"`
}

// historyID accepts both the numeric and the quoted form
type historyID uint64

func (h *historyID) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	if len(b) == 0 || string(b) == "null" {
		*h = 0
		return nil
	}
	v, err := strconv.ParseUint(string(b), 10, 64)
	if err != nil {
		return fmt.Errorf("history id %q: %w", b, err)
	}
	*h = historyID(v)
	return nil
}

// Parse decodes a raw webhook body. Every failure wraps ErrMalformed.
func Parse(raw []byte) (*Push, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Message == nil || env.Subscription == "" {
		return nil, fmt.Errorf("%w: missing message or subscription", ErrMalformed)
	}

	data, err := base64.StdEncoding.DecodeString(env.Message.Data)
	if err != nil {
		data, err = base64.URLEncoding.DecodeString(env.Message.Data)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: data: %v", ErrMalformed, err)
	}

	var d gmailData
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("%w: data: %v", ErrMalformed, err)
	}
	if d.EmailAddress == "" {
		return nil, fmt.Errorf("%w: data has no emailAddress", ErrMalformed)
	}

	p := &Push{
		MessageID:    env.Message.MessageID,
		Email:        d.EmailAddress,
		HistoryID:    uint64(d.HistoryID),
		Subscription: env.Subscription,
	}
	if env.Message.PublishTime != "" {
		if t, err := time.Parse(time.RFC3339Nano, env.Message.PublishTime); err == nil {
			p.Published = t
		}
	}
	return p, nil
}
