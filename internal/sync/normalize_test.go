package sync

import (
	"encoding/base64"
	"testing"

	"google.golang.org/api/gmail/v1"
)

func TestNormalizeMultipart(t *testing.T) {
	m := Normalize(gmailMessage("m1", 42, attachmentSpec{"att-1", "ci-A", "report.pdf"}), "u1")

	if m.ID != "m1" || m.UserID != "u1" || m.ThreadID != "t-m1" || m.HistoryID != 42 || m.Date != 1700000000000 {
		t.Fatalf("message = %+v", m)
	}
	if m.FromName != "Alice Sender" || m.FromEmail != "alice@example.com" {
		t.Fatalf("from = %q <%q>", m.FromName, m.FromEmail)
	}
	if m.ToName != "Bob Owner" || m.ToEmail != "owner@example.com" {
		t.Fatalf("to = %q <%q>", m.ToName, m.ToEmail)
	}

	if len(m.Parts) != 2 {
		t.Fatalf("parts = %d, want text + attachment", len(m.Parts))
	}
	text := m.Parts[0]
	if text.MimeType != "text/plain" || text.Body != "body of m1" || text.IsAttachment() {
		t.Fatalf("text part = %+v", text)
	}
	att := m.Parts[1]
	if !att.IsAttachment() || att.ContentID != "ci-A" || att.AttachmentID != "att-1" ||
		att.Filename != "report.pdf" || att.MessageID != "m1" || att.UserID != "u1" || att.Size != 42 {
		t.Fatalf("attachment part = %+v", att)
	}
}

func TestNormalizeSinglePart(t *testing.T) {
	m := Normalize(&gmail.Message{
		Id: "s1",
		Payload: &gmail.MessagePart{
			MimeType: "text/plain",
			Headers: []*gmail.MessagePartHeader{
				{Name: "from", Value: "plain@example.com"},
			},
			Body: &gmail.MessagePartBody{Data: base64.RawURLEncoding.EncodeToString([]byte("héllo")), Size: 6},
		},
	}, "u1")

	if m.FromEmail != "plain@example.com" || m.FromName != "" {
		t.Fatalf("from = %q <%q>", m.FromName, m.FromEmail)
	}
	if len(m.Parts) != 1 || m.Parts[0].Body != "héllo" {
		t.Fatalf("parts = %+v", m.Parts)
	}
}

func TestNormalizeSkipsHTMLOnlyMessage(t *testing.T) {
	m := Normalize(&gmail.Message{
		Id: "h1",
		Payload: &gmail.MessagePart{
			MimeType: "text/html",
			Body:     &gmail.MessagePartBody{Data: base64.URLEncoding.EncodeToString([]byte("<b>x</b>"))},
		},
	}, "u1")
	if len(m.Parts) != 0 {
		t.Fatalf("parts = %+v, want none", m.Parts)
	}
}

func TestContentIDFallbacks(t *testing.T) {
	tests := []struct {
		name    string
		headers []*gmail.MessagePartHeader
		want    string
	}{
		{"x-attachment-id", []*gmail.MessagePartHeader{{Name: "X-Attachment-Id", Value: "f_abc"}, {Name: "Content-ID", Value: "<other>"}}, "f_abc"},
		{"content-id", []*gmail.MessagePartHeader{{Name: "Content-Id", Value: "<img001@mail>"}}, "img001@mail"},
		{"attachment id", nil, "ANGjdJ"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := contentID(&gmail.MessagePart{Headers: tt.headers, Body: &gmail.MessagePartBody{AttachmentId: "ANGjdJ"}})
			if got != tt.want {
				t.Fatalf("contentID = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseAddress(t *testing.T) {
	tests := []struct {
		in, name, email string
	}{
		{"Alice <alice@example.com>", "Alice", "alice@example.com"},
		{`"Doe, John" <john@example.com>`, "Doe, John", "john@example.com"},
		{"bare@example.com", "", "bare@example.com"},
		{"=?UTF-8?Q?J=C3=BCrgen?= <j@example.com>", "Jürgen", "j@example.com"},
		{"Broken Name <not an address>", "Broken Name", "not an address"},
		{"", "", ""},
	}
	for _, tt := range tests {
		name, email := parseAddress(tt.in)
		if name != tt.name || email != tt.email {
			t.Errorf("parseAddress(%q) = %q, %q; want %q, %q", tt.in, name, email, tt.name, tt.email)
		}
	}
}

func TestDecodeBase64Variants(t *testing.T) {
	want := "subjects?>>"
	for _, enc := range []*base64.Encoding{base64.URLEncoding, base64.RawURLEncoding, base64.StdEncoding, base64.RawStdEncoding} {
		got, err := decodeBase64(enc.EncodeToString([]byte(want)))
		if err != nil || string(got) != want {
			t.Errorf("decode = %q, %v", got, err)
		}
	}
}
