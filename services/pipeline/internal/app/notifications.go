package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"devotionai/pkg/domain"
	"devotionai/pkg/mailer"
	"devotionai/pkg/queue"
)

// Notification job kinds carried on the queue.
const (
	KindAssignmentNotification = "assignment_notification"
	KindRejectionNotification  = "rejection_notification"
)

// AssignmentNotice tells a creator about newly assigned days.
type AssignmentNotice struct {
	CreatorID string      `json:"creatorId"`
	Email     string      `json:"email"`
	Name      string      `json:"name"`
	Month     string      `json:"month"`
	Mode      domain.Mode `json:"mode"`
	Count     int         `json:"count"`
	ItemIDs   []string    `json:"itemIds"`
}

// RejectionNotice tells a creator a submission was sent back.
type RejectionNotice struct {
	CreatorID string      `json:"creatorId"`
	Email     string      `json:"email"`
	Name      string      `json:"name"`
	PostDate  string      `json:"postDate"`
	Note      string      `json:"note"`
	Mode      domain.Mode `json:"mode"`
	ItemID    string      `json:"itemId"`
}

// Notifier delivers creator notifications. Calls happen after the owning
// transaction commits; errors are logged by the caller and never undo state.
type Notifier interface {
	NotifyAssignment(ctx context.Context, n AssignmentNotice) error
	NotifyRejection(ctx context.Context, n RejectionNotice) error
}

// Enqueuer is the part of the job queue the notifier needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, kind string, payload any) (queue.Job, error)
}

// QueueNotifier hands notifications to the background queue.
type QueueNotifier struct {
	Queue Enqueuer
}

func (n QueueNotifier) NotifyAssignment(ctx context.Context, notice AssignmentNotice) error {
	_, err := n.Queue.Enqueue(ctx, KindAssignmentNotification, notice)
	return err
}

func (n QueueNotifier) NotifyRejection(ctx context.Context, notice RejectionNotice) error {
	_, err := n.Queue.Enqueue(ctx, KindRejectionNotification, notice)
	return err
}

// LogNotifier only logs. Used when no queue is wired.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) NotifyAssignment(ctx context.Context, notice AssignmentNotice) error {
	n.logger().InfoContext(ctx, "assignment_notification", "creator_id", notice.CreatorID, "month", notice.Month, "count", notice.Count)
	return nil
}

func (n LogNotifier) NotifyRejection(ctx context.Context, notice RejectionNotice) error {
	n.logger().InfoContext(ctx, "rejection_notification", "creator_id", notice.CreatorID, "content_item_id", notice.ItemID)
	return nil
}

func (n LogNotifier) logger() *slog.Logger {
	if n.Logger != nil {
		return n.Logger
	}
	return slog.Default()
}

// NotificationHandler renders queued notifications into email.
func NotificationHandler(m mailer.Mailer, dashboardURL string) queue.Handler {
	dashboardURL = strings.TrimRight(strings.TrimSpace(dashboardURL), "/")
	return func(ctx context.Context, job queue.Job) error {
		switch job.Kind {
		case KindAssignmentNotification:
			var n AssignmentNotice
			if err := job.Decode(&n); err != nil {
				return fmt.Errorf("decode assignment notice: %w", err)
			}
			return m.Send(ctx, assignmentMessage(n, dashboardURL))
		case KindRejectionNotification:
			var n RejectionNotice
			if err := job.Decode(&n); err != nil {
				return fmt.Errorf("decode rejection notice: %w", err)
			}
			return m.Send(ctx, rejectionMessage(n, dashboardURL))
		default:
			return fmt.Errorf("unknown job kind %q", job.Kind)
		}
	}
}

func assignmentMessage(n AssignmentNotice, dashboardURL string) mailer.Message {
	days := "day"
	if n.Count != 1 {
		days = "days"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Hi %s,\n\n", displayName(n.Name))
	fmt.Fprintf(&b, "You have %d new %s content %s to record for %s.\n", n.Count, modeLabel(n.Mode), days, n.Month)
	if dashboardURL != "" {
		fmt.Fprintf(&b, "\nOpen your dashboard: %s\n", dashboardURL)
	}
	return mailer.Message{
		To:         []mailer.Address{{Email: n.Email, Name: n.Name}},
		Subject:    fmt.Sprintf("New assignments for %s", n.Month),
		Text:       b.String(),
		Categories: []string{"creator-assignment"},
	}
}

func rejectionMessage(n RejectionNotice, dashboardURL string) mailer.Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Hi %s,\n\n", displayName(n.Name))
	fmt.Fprintf(&b, "Your %s video for %s needs changes before it can be approved.\n\n", modeLabel(n.Mode), n.PostDate)
	fmt.Fprintf(&b, "Reviewer note:\n%s\n", n.Note)
	if dashboardURL != "" {
		fmt.Fprintf(&b, "\nResubmit from your dashboard: %s\n", dashboardURL)
	}
	return mailer.Message{
		To:         []mailer.Address{{Email: n.Email, Name: n.Name}},
		Subject:    fmt.Sprintf("Changes requested for %s", n.PostDate),
		Text:       b.String(),
		Categories: []string{"creator-rejection"},
	}
}

func displayName(name string) string {
	if strings.TrimSpace(name) == "" {
		return "there"
	}
	return name
}

func modeLabel(mode domain.Mode) string {
	if mode == domain.ModeBible {
		return "faith"
	}
	return "uplift"
}

// notifyAssignment and notifyRejection swallow delivery errors.
func (a *App) notifyAssignment(ctx context.Context, n AssignmentNotice) {
	if err := a.notifier.NotifyAssignment(ctx, n); err != nil {
		a.logger.WarnContext(ctx, "assignment_notification_failed", "creator_id", n.CreatorID, "err", err)
	}
}

func (a *App) notifyRejection(ctx context.Context, n RejectionNotice) {
	if err := a.notifier.NotifyRejection(ctx, n); err != nil {
		a.logger.WarnContext(ctx, "rejection_notification_failed", "creator_id", n.CreatorID, "content_item_id", n.ItemID, "err", err)
	}
}
