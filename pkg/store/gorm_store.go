package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"devotionai/pkg/domain"
)

const migrateLockID int64 = 51830417

// SQLitePrefix marks a DSN as a SQLite database path (local development).
const SQLitePrefix = "sqlite:"

// contentFieldColumns maps generated fields to the content column they fill.
var contentFieldColumns = map[string]string{
	domain.FieldReflection:      "reflection_text",
	domain.FieldNarrationScript: "narration_script",
	domain.FieldImagePrompt:     "image_prompt",
	domain.FieldAvatarVideo:     "ai_video_url",
}

// GormStore implements Store using GORM + Postgres (or SQLite for local use).
type GormStore struct {
	*gormTx
}

type gormTx struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	dsn = strings.TrimSpace(dsn)
	if strings.HasPrefix(dsn, SQLitePrefix) {
		return NewSQLiteStore(strings.TrimPrefix(dsn, SQLitePrefix))
	}
	db, err := gorm.Open(postgres.Open(dsn), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, migrate); err != nil {
		return nil, err
	}
	return &GormStore{gormTx: &gormTx{db: db}}, nil
}

// NewSQLiteStore opens a SQLite database. SQLite has a single writer, so the
// pool is capped at one connection and transactions serialize.
func NewSQLiteStore(path string) (*GormStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("sqlite path required")
	}
	db, err := gorm.Open(sqlite.Open(path), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql db: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := migrate(db); err != nil {
		return nil, err
	}
	return &GormStore{gormTx: &gormTx{db: db}}, nil
}

func gormConfig() *gorm.Config {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	return &gorm.Config{Logger: gormLog, TranslateError: true}
}

func migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&ContentItemModel{}, &CreatorModel{}, &UsedVerseModel{}, &GenerationLogModel{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// InTx runs fn inside one transaction.
func (s *GormStore) InTx(ctx context.Context, fn func(Tx) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormTx{db: tx})
	})
}

func (t *gormTx) locked(ctx context.Context) *gorm.DB {
	return t.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"})
}

// CreateContentItem inserts a new item; duplicate (date, mode, language) keys yield domain.ErrConflict.
func (t *gormTx) CreateContentItem(ctx context.Context, item domain.ContentItem) error {
	model := contentToModel(item)
	if err := t.db.WithContext(ctx).Create(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("%w: content for %s/%s/%s already exists", domain.ErrConflict, item.PostDate, item.Mode, item.Language)
		}
		return err
	}
	return nil
}

// GetContentItem retrieves an item.
func (t *gormTx) GetContentItem(ctx context.Context, id string) (domain.ContentItem, bool, error) {
	return t.getContentItem(t.db.WithContext(ctx), id)
}

// LockContentItem retrieves an item and holds its row lock until the transaction ends.
func (t *gormTx) LockContentItem(ctx context.Context, id string) (domain.ContentItem, bool, error) {
	return t.getContentItem(t.locked(ctx), id)
}

func (t *gormTx) getContentItem(db *gorm.DB, id string) (domain.ContentItem, bool, error) {
	var model ContentItemModel
	if err := db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ContentItem{}, false, nil
		}
		return domain.ContentItem{}, false, err
	}
	return contentFromModel(model), true, nil
}

// UpdateContentItem writes every mutable column of an item.
func (t *gormTx) UpdateContentItem(ctx context.Context, item domain.ContentItem) error {
	var creatorID *string
	if item.CreatorID != "" {
		creatorID = &item.CreatorID
	}
	res := t.db.WithContext(ctx).Model(&ContentItemModel{}).
		Where("id = ?", item.ID).
		Updates(map[string]any{
			"status":           string(item.Status),
			"creator_id":       creatorID,
			"verse_reference":  item.VerseReference,
			"script_text":      item.ScriptText,
			"reflection_text":  item.ReflectionText,
			"narration_script": item.NarrationScript,
			"image_prompt":     item.ImagePrompt,
			"rejection_note":   item.RejectionNote,
			"video_url":        item.VideoURL,
			"thumbnail_url":    item.ThumbnailURL,
			"ai_video_url":     item.AIVideoURL,
			"updated_at":       time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: content item %s", domain.ErrNotFound, item.ID)
	}
	return nil
}

// ListContentItems returns items ordered by post date.
func (t *gormTx) ListContentItems(ctx context.Context, filter ContentFilter) ([]domain.ContentItem, error) {
	var models []ContentItemModel
	if err := applyFilter(t.db.WithContext(ctx), filter).
		Order("post_date ASC").Order("mode ASC").Order("language ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	return contentsFromModels(models), nil
}

// LockUnassignedContent locks items without a creator whose status is in statuses.
func (t *gormTx) LockUnassignedContent(ctx context.Context, filter ContentFilter, statuses []domain.ContentStatus) ([]domain.ContentItem, error) {
	var models []ContentItemModel
	if err := applyFilter(t.locked(ctx), filter).
		Where("creator_id IS NULL").
		Where("status IN ?", statusStrings(statuses)).
		Order("post_date ASC").Order("language ASC").Order("id ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	return contentsFromModels(models), nil
}

// AssignContentItem sets the creator of an unassigned item when its status is in from.
// It reports false when another writer got there first.
func (t *gormTx) AssignContentItem(ctx context.Context, id, creatorID string, from []domain.ContentStatus) (bool, error) {
	res := t.db.WithContext(ctx).Model(&ContentItemModel{}).
		Where("id = ? AND creator_id IS NULL AND status IN ?", id, statusStrings(from)).
		Updates(map[string]any{
			"creator_id": creatorID,
			"status":     string(domain.StatusAssigned),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// SetContentField stores a generated value in the column backing field.
func (t *gormTx) SetContentField(ctx context.Context, id, field, value string) error {
	column, ok := contentFieldColumns[field]
	if !ok {
		return fmt.Errorf("%w: unknown content field %q", domain.ErrInvalidInput, field)
	}
	res := t.db.WithContext(ctx).Model(&ContentItemModel{}).
		Where("id = ?", id).
		Updates(map[string]any{column: value, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: content item %s", domain.ErrNotFound, id)
	}
	return nil
}

func applyFilter(db *gorm.DB, filter ContentFilter) *gorm.DB {
	if filter.From != "" {
		db = db.Where("post_date >= ?", filter.From)
	}
	if filter.To != "" {
		db = db.Where("post_date < ?", filter.To)
	}
	if filter.Mode != "" {
		db = db.Where("mode = ?", string(filter.Mode))
	}
	if filter.Language != "" {
		db = db.Where("language = ?", filter.Language)
	}
	return db
}

// SaveCreator registers or updates a creator.
func (t *gormTx) SaveCreator(ctx context.Context, c domain.Creator) error {
	model := creatorToModel(c)
	now := time.Now().UTC()
	if model.CreatedAt.IsZero() {
		model.CreatedAt = now
	}
	model.UpdatedAt = now
	return t.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"user_id", "name", "email", "languages", "can_faith", "can_uplift",
			"monthly_capacity", "active", "avatar_id", "voice_id", "updated_at",
		}),
	}).Create(&model).Error
}

// GetCreator returns a creator by ID.
func (t *gormTx) GetCreator(ctx context.Context, id string) (domain.Creator, bool, error) {
	return t.getCreator(t.db.WithContext(ctx), "id = ?", id)
}

// GetCreatorByUserID returns the creator profile of an authenticated user.
func (t *gormTx) GetCreatorByUserID(ctx context.Context, userID string) (domain.Creator, bool, error) {
	return t.getCreator(t.db.WithContext(ctx), "user_id = ?", userID)
}

// LockCreator returns a creator and holds its row lock.
func (t *gormTx) LockCreator(ctx context.Context, id string) (domain.Creator, bool, error) {
	return t.getCreator(t.locked(ctx), "id = ?", id)
}

func (t *gormTx) getCreator(db *gorm.DB, query string, arg any) (domain.Creator, bool, error) {
	var model CreatorModel
	if err := db.Where(query, arg).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Creator{}, false, nil
		}
		return domain.Creator{}, false, err
	}
	return creatorFromModel(model), true, nil
}

// LockActiveCreators locks all active creators in ascending id order.
func (t *gormTx) LockActiveCreators(ctx context.Context) ([]domain.Creator, error) {
	var models []CreatorModel
	if err := t.locked(ctx).Where("active = ?", true).Order("id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Creator, 0, len(models))
	for _, m := range models {
		res = append(res, creatorFromModel(m))
	}
	return res, nil
}

// CountAssignments returns, per creator, how many items dated in [from, to) they hold.
func (t *gormTx) CountAssignments(ctx context.Context, from, to string) (map[string]int, error) {
	var rows []struct {
		CreatorID string
		N         int64
	}
	if err := t.db.WithContext(ctx).Model(&ContentItemModel{}).
		Select("creator_id, COUNT(*) AS n").
		Where("creator_id IS NOT NULL AND post_date >= ? AND post_date < ?", from, to).
		Group("creator_id").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]int, len(rows))
	for _, r := range rows {
		out[r.CreatorID] = int(r.N)
	}
	return out, nil
}

// ListUsedVerseKeys returns the set of consumed verses.
func (t *gormTx) ListUsedVerseKeys(ctx context.Context) (map[domain.VerseKey]struct{}, error) {
	var models []UsedVerseModel
	if err := t.db.WithContext(ctx).Select("book", "chapter", "verse").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make(map[domain.VerseKey]struct{}, len(models))
	for _, m := range models {
		out[domain.VerseKey{Book: m.Book, Chapter: m.Chapter, Verse: m.Verse}] = struct{}{}
	}
	return out, nil
}

// RecordUsedVerse commits a verse to a content item.
func (t *gormTx) RecordUsedVerse(ctx context.Context, v domain.UsedVerse) error {
	model := UsedVerseModel{
		Book:          v.Book,
		Chapter:       v.Chapter,
		Verse:         v.Verse,
		Reference:     v.Reference,
		ContentItemID: v.ContentItemID,
		UsedOn:        v.UsedOn,
		CreatedAt:     time.Now().UTC(),
	}
	if err := t.db.WithContext(ctx).Create(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("%w: verse %s already used", domain.ErrConflict, v.Reference)
		}
		return err
	}
	return nil
}

// ResetUsedVerses forgets every used verse. Operator action once the pool is exhausted.
func (t *gormTx) ResetUsedVerses(ctx context.Context) (int64, error) {
	res := t.db.WithContext(ctx).Where("1 = 1").Delete(&UsedVerseModel{})
	return res.RowsAffected, res.Error
}

// CreateGenerationLog appends a generation attempt.
func (t *gormTx) CreateGenerationLog(ctx context.Context, entry domain.GenerationLogEntry) error {
	model := generationLogToModel(entry)
	return t.db.WithContext(ctx).Create(&model).Error
}

// GetGenerationLog returns one attempt.
func (t *gormTx) GetGenerationLog(ctx context.Context, id string) (domain.GenerationLogEntry, bool, error) {
	return t.getGenerationLog(t.db.WithContext(ctx), "id = ?", id)
}

// LockGenerationLogByJobID finds an attempt by provider job id and locks it.
func (t *gormTx) LockGenerationLogByJobID(ctx context.Context, jobID string) (domain.GenerationLogEntry, bool, error) {
	return t.getGenerationLog(t.locked(ctx), "provider_job_id = ?", jobID)
}

func (t *gormTx) getGenerationLog(db *gorm.DB, query string, arg any) (domain.GenerationLogEntry, bool, error) {
	var model GenerationLogModel
	if err := db.Where(query, arg).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.GenerationLogEntry{}, false, nil
		}
		return domain.GenerationLogEntry{}, false, err
	}
	return generationLogFromModel(model), true, nil
}

// AttachProviderJobID stores the provider job id on a started attempt that has none yet.
func (t *gormTx) AttachProviderJobID(ctx context.Context, id, jobID string) (bool, error) {
	res := t.db.WithContext(ctx).Model(&GenerationLogModel{}).
		Where("id = ? AND provider_job_id IS NULL", id).
		Update("provider_job_id", jobID)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			return false, fmt.Errorf("%w: provider job %s already correlated", domain.ErrConflict, jobID)
		}
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// SettleGenerationLog writes the terminal status of a started attempt.
// Only the first writer wins; later calls report false.
func (t *gormTx) SettleGenerationLog(ctx context.Context, id string, status domain.GenerationStatus, errMsg string, durationMs int64, settledAt time.Time) (bool, error) {
	if !status.Terminal() {
		return false, fmt.Errorf("%w: %q is not a terminal status", domain.ErrInvalidInput, status)
	}
	res := t.db.WithContext(ctx).Model(&GenerationLogModel{}).
		Where("id = ? AND status = ?", id, string(domain.GenerationStarted)).
		Updates(map[string]any{
			"status":        string(status),
			"error_message": errMsg,
			"duration_ms":   durationMs,
			"settled_at":    settledAt.UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ListGenerationLogs returns every attempt for an item, oldest first.
func (t *gormTx) ListGenerationLogs(ctx context.Context, contentItemID string) ([]domain.GenerationLogEntry, error) {
	var models []GenerationLogModel
	if err := t.db.WithContext(ctx).Where("content_item_id = ?", contentItemID).
		Order("created_at ASC").Order("attempt ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	return generationLogsFromModels(models), nil
}

// ListStaleGenerationLogs returns started attempts created before the cutoff.
func (t *gormTx) ListStaleGenerationLogs(ctx context.Context, before time.Time, limit int) ([]domain.GenerationLogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	var models []GenerationLogModel
	if err := t.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", string(domain.GenerationStarted), before.UTC()).
		Order("created_at ASC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	return generationLogsFromModels(models), nil
}

// CountGenerationAttempts counts attempts for an item field.
func (t *gormTx) CountGenerationAttempts(ctx context.Context, contentItemID, field string) (int, error) {
	var count int64
	if err := t.db.WithContext(ctx).Model(&GenerationLogModel{}).
		Where("content_item_id = ? AND field = ?", contentItemID, field).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

func statusStrings(statuses []domain.ContentStatus) []string {
	out := make([]string, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, string(s))
	}
	return out
}

func contentToModel(c domain.ContentItem) ContentItemModel {
	var creatorID *string
	if strings.TrimSpace(c.CreatorID) != "" {
		value := strings.TrimSpace(c.CreatorID)
		creatorID = &value
	}
	return ContentItemModel{
		ID:              c.ID,
		PostDate:        c.PostDate,
		Mode:            string(c.Mode),
		Language:        c.Language,
		Status:          string(c.Status),
		CreatorID:       creatorID,
		VerseReference:  c.VerseReference,
		ScriptText:      c.ScriptText,
		ReflectionText:  c.ReflectionText,
		NarrationScript: c.NarrationScript,
		ImagePrompt:     c.ImagePrompt,
		RejectionNote:   c.RejectionNote,
		VideoURL:        c.VideoURL,
		ThumbnailURL:    c.ThumbnailURL,
		AIVideoURL:      c.AIVideoURL,
		CreatedAt:       c.CreatedAt,
		UpdatedAt:       c.UpdatedAt,
	}
}

func contentFromModel(m ContentItemModel) domain.ContentItem {
	creatorID := ""
	if m.CreatorID != nil {
		creatorID = *m.CreatorID
	}
	return domain.ContentItem{
		ID:              m.ID,
		PostDate:        m.PostDate,
		Mode:            domain.Mode(m.Mode),
		Language:        m.Language,
		Status:          domain.ContentStatus(m.Status),
		CreatorID:       creatorID,
		VerseReference:  m.VerseReference,
		ScriptText:      m.ScriptText,
		ReflectionText:  m.ReflectionText,
		NarrationScript: m.NarrationScript,
		ImagePrompt:     m.ImagePrompt,
		RejectionNote:   m.RejectionNote,
		VideoURL:        m.VideoURL,
		ThumbnailURL:    m.ThumbnailURL,
		AIVideoURL:      m.AIVideoURL,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

func contentsFromModels(models []ContentItemModel) []domain.ContentItem {
	res := make([]domain.ContentItem, 0, len(models))
	for _, m := range models {
		res = append(res, contentFromModel(m))
	}
	return res
}

func creatorToModel(c domain.Creator) CreatorModel {
	langs, _ := json.Marshal(c.Languages)
	return CreatorModel{
		ID:              c.ID,
		UserID:          c.UserID,
		Name:            c.Name,
		Email:           c.Email,
		Languages:       langs,
		CanFaith:        c.CanFaith,
		CanUplift:       c.CanUplift,
		MonthlyCapacity: c.MonthlyCapacity,
		Active:          c.Active,
		AvatarID:        c.AvatarID,
		VoiceID:         c.VoiceID,
		CreatedAt:       c.CreatedAt,
		UpdatedAt:       c.UpdatedAt,
	}
}

func creatorFromModel(m CreatorModel) domain.Creator {
	var langs []string
	if len(m.Languages) > 0 {
		_ = json.Unmarshal(m.Languages, &langs)
	}
	return domain.Creator{
		ID:              m.ID,
		UserID:          m.UserID,
		Name:            m.Name,
		Email:           m.Email,
		Languages:       langs,
		CanFaith:        m.CanFaith,
		CanUplift:       m.CanUplift,
		MonthlyCapacity: m.MonthlyCapacity,
		Active:          m.Active,
		AvatarID:        m.AvatarID,
		VoiceID:         m.VoiceID,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

func generationLogToModel(e domain.GenerationLogEntry) GenerationLogModel {
	var jobID *string
	if strings.TrimSpace(e.ProviderJobID) != "" {
		value := strings.TrimSpace(e.ProviderJobID)
		jobID = &value
	}
	status := e.Status
	if status == "" {
		status = domain.GenerationStarted
	}
	return GenerationLogModel{
		ID:              e.ID,
		ContentItemID:   e.ContentItemID,
		Field:           e.Field,
		TranslationCode: e.TranslationCode,
		Status:          string(status),
		ErrorMessage:    e.ErrorMessage,
		DurationMs:      e.DurationMs,
		ProviderJobID:   jobID,
		Attempt:         e.Attempt,
		Payload:         []byte(e.Payload),
		CreatedAt:       e.CreatedAt,
		SettledAt:       e.SettledAt,
	}
}

func generationLogFromModel(m GenerationLogModel) domain.GenerationLogEntry {
	jobID := ""
	if m.ProviderJobID != nil {
		jobID = *m.ProviderJobID
	}
	var payload json.RawMessage
	if len(m.Payload) > 0 {
		payload = json.RawMessage(m.Payload)
	}
	return domain.GenerationLogEntry{
		ID:              m.ID,
		ContentItemID:   m.ContentItemID,
		Field:           m.Field,
		TranslationCode: m.TranslationCode,
		Status:          domain.GenerationStatus(m.Status),
		ErrorMessage:    m.ErrorMessage,
		DurationMs:      m.DurationMs,
		ProviderJobID:   jobID,
		Attempt:         m.Attempt,
		Payload:         payload,
		CreatedAt:       m.CreatedAt,
		SettledAt:       m.SettledAt,
	}
}

func generationLogsFromModels(models []GenerationLogModel) []domain.GenerationLogEntry {
	res := make([]domain.GenerationLogEntry, 0, len(models))
	for _, m := range models {
		res = append(res, generationLogFromModel(m))
	}
	return res
}
