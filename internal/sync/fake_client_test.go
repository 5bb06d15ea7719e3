package sync

import (
	"context"
	"encoding/base64"
	"fmt"
	gosync "sync"

	"google.golang.org/api/gmail/v1"

	"github.com/Martian-dev/gmail-mirror/internal/mailbox"
)

// fakeClient serves a scripted mailbox and records every remote call
type fakeClient struct {
	mu gosync.Mutex

	ids         []string
	byCorr      map[string][]string
	history     map[uint64][]mailbox.HistoryRecord
	messages    map[string]*gmail.Message
	attachments map[string]string // attachment id -> raw bytes
	watch       *mailbox.WatchResult
	err         error

	listCalls      int
	historyCursors []uint64
	gotMessages    []string
	gotAttachments []string
	watchTopics    []string
}


func newFakeClient() *fakeClient {
	return &fakeClient{
		byCorr:      map[string][]string{},
		history:     map[uint64][]mailbox.HistoryRecord{},
		messages:    map[string]*gmail.Message{},
		attachments: map[string]string{},
	}
}

func (f *fakeClient) addMessage(m *gmail.Message) {
	f.messages[m.Id] = m
	f.ids = append(f.ids, m.Id)
}

func (f *fakeClient) ListMessageIDs(_ context.Context, correspondent string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.err != nil {
		return nil, f.err
	}
	if correspondent != "" {
		return f.byCorr[correspondent], nil
	}
	return append([]string(nil), f.ids...), nil
}

func (f *fakeClient) ListHistory(_ context.Context, since uint64) ([]mailbox.HistoryRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.historyCursors = append(f.historyCursors, since)
	if f.err != nil {
		return nil, f.err
	}
	return f.history[since], nil
}

func (f *fakeClient) GetMessage(_ context.Context, id string) (*gmail.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gotMessages = append(f.gotMessages, id)
	m, ok := f.messages[id]
	if !ok {
		return nil, fmt.Errorf("message %s: 404", id)
	}
	return m, nil
}

func (f *fakeClient) GetAttachment(_ context.Context, messageID, attachmentID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gotAttachments = append(f.gotAttachments, messageID+"/"+attachmentID)
	data, ok := f.attachments[attachmentID]
	if !ok {
		return "", fmt.Errorf("attachment %s: 404", attachmentID)
	}
	return base64.URLEncoding.EncodeToString([]byte(data)), nil
}

func (f *fakeClient) Watch(_ context.Context, topic string) (*mailbox.WatchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.watchTopics = append(f.watchTopics, topic)
	if f.err != nil {
		return nil, f.err
	}
	return f.watch, nil
}

func (f *fakeClient) remoteCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls + len(f.historyCursors) + len(f.gotMessages) + len(f.gotAttachments) + len(f.watchTopics)
}

type attachmentSpec struct {
	attachmentID string
	contentID    string
	filename     string
}

// gmailMessage builds a multipart/mixed message with a text/plain and
// text/html alternative plus the given attachments
func gmailMessage(id string, historyID uint64, atts ...attachmentSpec) *gmail.Message {
	parts := []*gmail.MessagePart{{
		PartId:   "0",
		MimeType: "multipart/alternative",
		Parts: []*gmail.MessagePart{
			{PartId: "0.0", MimeType: "text/plain", Body: &gmail.MessagePartBody{Data: base64.URLEncoding.EncodeToString([]byte("body of " + id)), Size: int64(len("body of " + id))}},
			{PartId: "0.1", MimeType: "text/html", Body: &gmail.MessagePartBody{Data: base64.URLEncoding.EncodeToString([]byte("<p>body</p>")), Size: 11}},
		},
	}}
	for i, a := range atts {
		parts = append(parts, &gmail.MessagePart{
			PartId:   fmt.Sprint(i + 1),
			MimeType: "application/pdf",
			Filename: a.filename,
			Headers:  []*gmail.MessagePartHeader{{Name: "X-Attachment-Id", Value: a.contentID}},
			Body:     &gmail.MessagePartBody{AttachmentId: a.attachmentID, Size: 42},
		})
	}
	return &gmail.Message{
		Id:           id,
		ThreadId:     "t-" + id,
		LabelIds:     []string{"INBOX"},
		Snippet:      "snippet " + id,
		HistoryId:    historyID,
		InternalDate: 1700000000000,
		Payload: &gmail.MessagePart{
			MimeType: "multipart/mixed",
			Headers: []*gmail.MessagePartHeader{
				{Name: "From", Value: "Alice Sender <alice@example.com>"},
				{Name: "To", Value: "Bob Owner <owner@example.com>"},
			},
			Parts: parts,
		},
	}
}
