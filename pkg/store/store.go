package store

import (
	"context"
	"time"

	"devotionai/pkg/domain"
)

// ContentFilter selects content items by date range and track.
// From is inclusive and To exclusive, both in domain.DateLayout.
type ContentFilter struct {
	From     string
	To       string
	Mode     domain.Mode
	Language string
}

// Tx exposes persistence operations that may run inside or outside a transaction.
// Lock* methods take row-level locks and are only meaningful inside Store.InTx.
type Tx interface {
	// content items
	CreateContentItem(ctx context.Context, item domain.ContentItem) error
	GetContentItem(ctx context.Context, id string) (domain.ContentItem, bool, error)
	LockContentItem(ctx context.Context, id string) (domain.ContentItem, bool, error)
	UpdateContentItem(ctx context.Context, item domain.ContentItem) error
	ListContentItems(ctx context.Context, filter ContentFilter) ([]domain.ContentItem, error)
	LockUnassignedContent(ctx context.Context, filter ContentFilter, statuses []domain.ContentStatus) ([]domain.ContentItem, error)
	AssignContentItem(ctx context.Context, id, creatorID string, from []domain.ContentStatus) (bool, error)
	SetContentField(ctx context.Context, id, field, value string) error

	// creators
	SaveCreator(ctx context.Context, c domain.Creator) error
	GetCreator(ctx context.Context, id string) (domain.Creator, bool, error)
	GetCreatorByUserID(ctx context.Context, userID string) (domain.Creator, bool, error)
	LockActiveCreators(ctx context.Context) ([]domain.Creator, error)
	LockCreator(ctx context.Context, id string) (domain.Creator, bool, error)
	CountAssignments(ctx context.Context, from, to string) (map[string]int, error)

	// verses
	ListUsedVerseKeys(ctx context.Context) (map[domain.VerseKey]struct{}, error)
	RecordUsedVerse(ctx context.Context, v domain.UsedVerse) error
	ResetUsedVerses(ctx context.Context) (int64, error)

	// generation log
	CreateGenerationLog(ctx context.Context, entry domain.GenerationLogEntry) error
	GetGenerationLog(ctx context.Context, id string) (domain.GenerationLogEntry, bool, error)
	AttachProviderJobID(ctx context.Context, id, jobID string) (bool, error)
	LockGenerationLogByJobID(ctx context.Context, jobID string) (domain.GenerationLogEntry, bool, error)
	SettleGenerationLog(ctx context.Context, id string, status domain.GenerationStatus, errMsg string, durationMs int64, settledAt time.Time) (bool, error)
	ListGenerationLogs(ctx context.Context, contentItemID string) ([]domain.GenerationLogEntry, error)
	ListStaleGenerationLogs(ctx context.Context, before time.Time, limit int) ([]domain.GenerationLogEntry, error)
	CountGenerationAttempts(ctx context.Context, contentItemID, field string) (int, error)
}

// Store defines persistence for the content pipeline.
type Store interface {
	Tx
	// InTx runs fn in a single database transaction; fn's error rolls it back.
	InTx(ctx context.Context, fn func(tx Tx) error) error
}
