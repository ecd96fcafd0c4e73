package app

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"devotionai/pkg/mailer"
	"devotionai/pkg/queue"
)

type captureMailer struct {
	sent []mailer.Message
}

func (m *captureMailer) Send(_ context.Context, msg mailer.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	m.sent = append(m.sent, msg)
	return nil
}

type captureEnqueuer struct {
	kinds    []string
	payloads []any
}

func (e *captureEnqueuer) Enqueue(_ context.Context, kind string, payload any) (queue.Job, error) {
	e.kinds = append(e.kinds, kind)
	e.payloads = append(e.payloads, payload)
	return queue.Job{ID: "j", Kind: kind}, nil
}

func jobFor(t *testing.T, kind string, v any) queue.Job {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return queue.Job{ID: "j1", Kind: kind, Payload: raw}
}

func TestNotificationHandlerAssignment(t *testing.T) {
	m := &captureMailer{}
	h := NotificationHandler(m, "https://studio.test/")
	job := jobFor(t, KindAssignmentNotification, AssignmentNotice{CreatorID: "a", Email: "a@example.com", Name: "Ana", Month: "2026-03", Mode: "bible", Count: 3})

	if err := h(context.Background(), job); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(m.sent) != 1 {
		t.Fatalf("expected one email, got %d", len(m.sent))
	}
	msg := m.sent[0]
	if msg.To[0].Email != "a@example.com" || !strings.Contains(msg.Subject, "2026-03") {
		t.Fatalf("unexpected message: %+v", msg)
	}
	if !strings.Contains(msg.Text, "3 new faith content days") || !strings.Contains(msg.Text, "https://studio.test") {
		t.Fatalf("unexpected body: %s", msg.Text)
	}
}

func TestNotificationHandlerRejection(t *testing.T) {
	m := &captureMailer{}
	h := NotificationHandler(m, "")
	job := jobFor(t, KindRejectionNotification, RejectionNotice{Email: "a@example.com", PostDate: "2026-03-04", Note: "audio clipped", Mode: "positivity"})

	if err := h(context.Background(), job); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if !strings.Contains(m.sent[0].Text, "audio clipped") || !strings.Contains(m.sent[0].Text, "Hi there") {
		t.Fatalf("unexpected body: %s", m.sent[0].Text)
	}
}

func TestNotificationHandlerUnknownKind(t *testing.T) {
	h := NotificationHandler(&captureMailer{}, "")
	if err := h(context.Background(), queue.Job{Kind: "other"}); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
}

func TestQueueNotifierEnqueuesKinds(t *testing.T) {
	q := &captureEnqueuer{}
	n := QueueNotifier{Queue: q}
	ctx := context.Background()
	if err := n.NotifyAssignment(ctx, AssignmentNotice{CreatorID: "a"}); err != nil {
		t.Fatalf("assignment: %v", err)
	}
	if err := n.NotifyRejection(ctx, RejectionNotice{CreatorID: "a"}); err != nil {
		t.Fatalf("rejection: %v", err)
	}
	if len(q.kinds) != 2 || q.kinds[0] != KindAssignmentNotification || q.kinds[1] != KindRejectionNotification {
		t.Fatalf("unexpected kinds: %v", q.kinds)
	}
}

type failingNotifier struct{}

func (failingNotifier) NotifyAssignment(context.Context, AssignmentNotice) error {
	return errors.New("redis down")
}

func (failingNotifier) NotifyRejection(context.Context, RejectionNotice) error {
	return errors.New("redis down")
}

func TestNotificationFailureDoesNotUndoAssignment(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.Notifier = failingNotifier{} })
	ctx := context.Background()
	env.addCreator(t, activeCreator("a", 5))
	env.addItem(t, "d1", "2026-03-01", "bible", "empty", "")

	res, err := env.app.AutoAssign(ctx, "2026-03", "bible", "en")
	if err != nil {
		t.Fatalf("auto assign: %v", err)
	}
	if res.Assigned != 1 || env.item(t, "d1").CreatorID != "a" {
		t.Fatalf("assignment must stick when notification fails: %+v", res)
	}
}
