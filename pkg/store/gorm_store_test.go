package store

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"devotionai/pkg/domain"
)

func newTestStore(t *testing.T) *GormStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "pipeline.db"))
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	return s
}

func testItem(id, date string, mode domain.Mode, lang string) domain.ContentItem {
	now := time.Now().UTC()
	return domain.ContentItem{
		ID:        id,
		PostDate:  date,
		Mode:      mode,
		Language:  lang,
		Status:    domain.StatusEmpty,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestGormStoreContentUniquePerDay(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CreateContentItem(ctx, testItem("c1", "2025-03-01", domain.ModeBible, "en")); err != nil {
		t.Fatalf("create: %v", err)
	}
	err := s.CreateContentItem(ctx, testItem("c2", "2025-03-01", domain.ModeBible, "en"))
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict for duplicate day, got %v", err)
	}
	if err := s.CreateContentItem(ctx, testItem("c3", "2025-03-01", domain.ModeBible, "es")); err != nil {
		t.Fatalf("other language should be allowed: %v", err)
	}

	got, ok, err := s.GetContentItem(ctx, "c1")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if got.Status != domain.StatusEmpty || got.CreatorID != "" {
		t.Fatalf("unexpected item: %+v", got)
	}
	if _, ok, err := s.GetContentItem(ctx, "missing"); err != nil || ok {
		t.Fatalf("missing item: ok=%v err=%v", ok, err)
	}
}

func TestGormStoreAssignContentItemIsConditional(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.CreateContentItem(ctx, testItem("c1", "2025-03-01", domain.ModeBible, "en")); err != nil {
		t.Fatalf("create: %v", err)
	}
	from := []domain.ContentStatus{domain.StatusEmpty, domain.StatusGenerated}

	ok, err := s.AssignContentItem(ctx, "c1", "creator-a", from)
	if err != nil || !ok {
		t.Fatalf("first assign: ok=%v err=%v", ok, err)
	}
	ok, err = s.AssignContentItem(ctx, "c1", "creator-b", from)
	if err != nil {
		t.Fatalf("second assign: %v", err)
	}
	if ok {
		t.Fatalf("second assign should not win")
	}
	got, _, _ := s.GetContentItem(ctx, "c1")
	if got.CreatorID != "creator-a" || got.Status != domain.StatusAssigned {
		t.Fatalf("unexpected item after assign: %+v", got)
	}
}

func TestGormStoreLockUnassignedContentFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	items := []domain.ContentItem{
		testItem("a", "2025-03-02", domain.ModeBible, "en"),
		testItem("b", "2025-03-01", domain.ModeBible, "en"),
		testItem("c", "2025-04-01", domain.ModeBible, "en"),
		testItem("d", "2025-03-03", domain.ModePositivity, "en"),
	}
	submitted := testItem("e", "2025-03-04", domain.ModeBible, "en")
	submitted.Status = domain.StatusSubmitted
	items = append(items, submitted)
	for _, it := range items {
		if err := s.CreateContentItem(ctx, it); err != nil {
			t.Fatalf("create %s: %v", it.ID, err)
		}
	}

	var got []domain.ContentItem
	err := s.InTx(ctx, func(tx Tx) error {
		var err error
		got, err = tx.LockUnassignedContent(ctx, ContentFilter{
			From: "2025-03-01",
			To:   "2025-04-01",
			Mode: domain.ModeBible,
		}, []domain.ContentStatus{domain.StatusEmpty, domain.StatusGenerated})
		return err
	})
	if err != nil {
		t.Fatalf("lock unassigned: %v", err)
	}
	if len(got) != 2 || got[0].ID != "b" || got[1].ID != "a" {
		t.Fatalf("unexpected selection: %+v", got)
	}
}

func TestGormStoreCountAssignmentsByMonth(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for _, it := range []domain.ContentItem{
		testItem("1", "2025-03-01", domain.ModeBible, "en"),
		testItem("2", "2025-03-02", domain.ModePositivity, "es"),
		testItem("3", "2025-04-01", domain.ModeBible, "en"),
		testItem("4", "2025-03-03", domain.ModeBible, "en"),
	} {
		if err := s.CreateContentItem(ctx, it); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	from := []domain.ContentStatus{domain.StatusEmpty}
	for id, creator := range map[string]string{"1": "A", "2": "A", "3": "A", "4": "B"} {
		if _, err := s.AssignContentItem(ctx, id, creator, from); err != nil {
			t.Fatalf("assign: %v", err)
		}
	}

	counts, err := s.CountAssignments(ctx, "2025-03-01", "2025-04-01")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if counts["A"] != 2 || counts["B"] != 1 {
		t.Fatalf("unexpected counts: %+v", counts)
	}
}

func TestGormStoreCreatorsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for _, c := range []domain.Creator{
		{ID: "b", UserID: "user-b", Name: "B", Email: "b@example.com", Languages: []string{"en", "es"}, CanFaith: true, MonthlyCapacity: 4, Active: true},
		{ID: "a", UserID: "user-a", Name: "A", Email: "a@example.com", Languages: []string{"en"}, CanUplift: true, MonthlyCapacity: 2, Active: true},
		{ID: "c", Name: "C", Email: "c@example.com", Languages: []string{"en"}, MonthlyCapacity: 9},
	} {
		if err := s.SaveCreator(ctx, c); err != nil {
			t.Fatalf("save creator: %v", err)
		}
	}

	var active []domain.Creator
	if err := s.InTx(ctx, func(tx Tx) error {
		var err error
		active, err = tx.LockActiveCreators(ctx)
		return err
	}); err != nil {
		t.Fatalf("lock active: %v", err)
	}
	if len(active) != 2 || active[0].ID != "a" || active[1].ID != "b" {
		t.Fatalf("unexpected active creators: %+v", active)
	}
	if !active[1].Speaks("ES") || !active[1].Supports(domain.ModeBible) {
		t.Fatalf("languages/modes lost: %+v", active[1])
	}

	// Update in place.
	upd := active[0]
	upd.MonthlyCapacity = 7
	if err := s.SaveCreator(ctx, upd); err != nil {
		t.Fatalf("update creator: %v", err)
	}
	got, ok, err := s.GetCreatorByUserID(ctx, "user-a")
	if err != nil || !ok {
		t.Fatalf("get by user: ok=%v err=%v", ok, err)
	}
	if got.MonthlyCapacity != 7 {
		t.Fatalf("capacity = %d, want 7", got.MonthlyCapacity)
	}
}

func TestGormStoreUsedVerses(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	v := domain.UsedVerse{Book: "John", Chapter: 3, Verse: 16, Reference: "John 3:16", ContentItemID: "c1", UsedOn: "2025-03-01"}
	if err := s.RecordUsedVerse(ctx, v); err != nil {
		t.Fatalf("record: %v", err)
	}
	dup := v
	dup.ContentItemID = "c2"
	if err := s.RecordUsedVerse(ctx, dup); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict for reused verse, got %v", err)
	}
	keys, err := s.ListUsedVerseKeys(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if _, ok := keys[domain.VerseKey{Book: "John", Chapter: 3, Verse: 16}]; !ok || len(keys) != 1 {
		t.Fatalf("unexpected keys: %+v", keys)
	}
	n, err := s.ResetUsedVerses(ctx)
	if err != nil || n != 1 {
		t.Fatalf("reset: n=%d err=%v", n, err)
	}
	keys, _ = s.ListUsedVerseKeys(ctx)
	if len(keys) != 0 {
		t.Fatalf("expected empty after reset, got %d", len(keys))
	}
}

func TestGormStoreGenerationLogSettlesOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	entry := domain.GenerationLogEntry{
		ID:            "g1",
		ContentItemID: "c1",
		Field:         domain.FieldAvatarVideo,
		Status:        domain.GenerationStarted,
		Attempt:       1,
		Payload:       json.RawMessage(`{"script":"hello"}`),
		CreatedAt:     time.Now().UTC().Add(-time.Hour),
	}
	if err := s.CreateGenerationLog(ctx, entry); err != nil {
		t.Fatalf("create log: %v", err)
	}
	ok, err := s.AttachProviderJobID(ctx, "g1", "job-1")
	if err != nil || !ok {
		t.Fatalf("attach: ok=%v err=%v", ok, err)
	}
	if ok, _ := s.AttachProviderJobID(ctx, "g1", "job-2"); ok {
		t.Fatalf("job id should only attach once")
	}

	stale, err := s.ListStaleGenerationLogs(ctx, time.Now().UTC().Add(-time.Minute), 10)
	if err != nil || len(stale) != 1 {
		t.Fatalf("stale: %d err=%v", len(stale), err)
	}

	var locked domain.GenerationLogEntry
	if err := s.InTx(ctx, func(tx Tx) error {
		var found bool
		var err error
		locked, found, err = tx.LockGenerationLogByJobID(ctx, "job-1")
		if err != nil {
			return err
		}
		if !found {
			t.Fatalf("job not found")
		}
		return nil
	}); err != nil {
		t.Fatalf("lock by job: %v", err)
	}
	if string(locked.Payload) != `{"script":"hello"}` {
		t.Fatalf("payload lost: %s", locked.Payload)
	}

	settledAt := time.Now().UTC()
	won, err := s.SettleGenerationLog(ctx, "g1", domain.GenerationSuccess, "", 1200, settledAt)
	if err != nil || !won {
		t.Fatalf("settle: won=%v err=%v", won, err)
	}
	won, err = s.SettleGenerationLog(ctx, "g1", domain.GenerationFailed, "late", 10, settledAt)
	if err != nil || won {
		t.Fatalf("second settle: won=%v err=%v", won, err)
	}
	if _, err := s.SettleGenerationLog(ctx, "g1", domain.GenerationStarted, "", 0, settledAt); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input for non-terminal status, got %v", err)
	}

	got, _, _ := s.GetGenerationLog(ctx, "g1")
	if got.Status != domain.GenerationSuccess || got.DurationMs == nil || *got.DurationMs != 1200 || got.SettledAt == nil {
		t.Fatalf("unexpected settled entry: %+v", got)
	}
	n, err := s.CountGenerationAttempts(ctx, "c1", domain.FieldAvatarVideo)
	if err != nil || n != 1 {
		t.Fatalf("attempts: n=%d err=%v", n, err)
	}
	if stale, _ := s.ListStaleGenerationLogs(ctx, time.Now().UTC(), 10); len(stale) != 0 {
		t.Fatalf("settled entry should not be stale")
	}
}

func TestGormStoreSetContentField(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.CreateContentItem(ctx, testItem("c1", "2025-03-01", domain.ModeBible, "en")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.SetContentField(ctx, "c1", domain.FieldAvatarVideo, "https://cdn.example/v.mp4"); err != nil {
		t.Fatalf("set field: %v", err)
	}
	got, _, _ := s.GetContentItem(ctx, "c1")
	if got.AIVideoURL != "https://cdn.example/v.mp4" {
		t.Fatalf("ai video url = %q", got.AIVideoURL)
	}
	if err := s.SetContentField(ctx, "c1", "bogus", "x"); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if err := s.SetContentField(ctx, "missing", domain.FieldReflection, "x"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestGormStoreInTxRollsBack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")
	err := s.InTx(ctx, func(tx Tx) error {
		if err := tx.CreateContentItem(ctx, testItem("c1", "2025-03-01", domain.ModeBible, "en")); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if _, ok, _ := s.GetContentItem(ctx, "c1"); ok {
		t.Fatalf("item should have been rolled back")
	}
}
