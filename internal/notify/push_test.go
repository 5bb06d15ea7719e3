package notify

import (
	"encoding/base64"
	"errors"
	"fmt"
	"testing"
)

func pushBody(id, data, subscription string) []byte {
	return []byte(fmt.Sprintf(`{"message":{"messageId":%q,"data":%q,"publishTime":"2024-03-01T10:00:00.123Z"},"subscription":%q}`,
		id, data, subscription))
}

func encode(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

func TestParse(t *testing.T) {
	tests := []struct {
		name      string
		body      []byte
		wantErr   bool
		wantEmail string
		wantHist  uint64
	}{
		{
			name:      "numeric history id",
			body:      pushBody("1", encode(`{"emailAddress":"a@example.com","historyId":1234}`), "projects/p/subscriptions/s"),
			wantEmail: "a@example.com",
			wantHist:  1234,
		},
		{
			name:      "quoted history id",
			body:      pushBody("2", encode(`{"emailAddress":"a@example.com","historyId":"99"}`), "projects/p/subscriptions/s"),
			wantEmail: "a@example.com",
			wantHist:  99,
		},
		{
			name:    "missing subscription",
			body:    []byte(`{"message":{"messageId":"1","data":""}}`),
			wantErr: true,
		},
		{
			name:    "missing message",
			body:    []byte(`{"subscription":"s"}`),
			wantErr: true,
		},
		{
			name:    "not json",
			body:    []byte(`hello`),
			wantErr: true,
		},
		{
			name:    "data not base64",
			body:    pushBody("3", "***", "s"),
			wantErr: true,
		},
		{
			name:    "data without email",
			body:    pushBody("4", encode(`{"historyId":1}`), "s"),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Parse(tt.body)
			if tt.wantErr {
				if !errors.Is(err, ErrMalformed) {
					t.Fatalf("err = %v, want ErrMalformed", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if p.Email != tt.wantEmail || p.HistoryID != tt.wantHist {
				t.Fatalf("push = %+v", p)
			}
			if p.Published.IsZero() {
				t.Fatal("publish time not parsed")
			}
		})
	}
}
