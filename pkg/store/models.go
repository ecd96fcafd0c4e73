package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type ContentItemModel struct {
	ID              string  `gorm:"primaryKey"`
	PostDate        string  `gorm:"type:varchar(10);not null;uniqueIndex:idx_content_day,priority:1"`
	Mode            string  `gorm:"type:varchar(32);not null;uniqueIndex:idx_content_day,priority:2"`
	Language        string  `gorm:"type:varchar(16);not null;uniqueIndex:idx_content_day,priority:3"`
	Status          string  `gorm:"type:varchar(16);not null;index"`
	CreatorID       *string `gorm:"index"`
	VerseReference  string
	ScriptText      string `gorm:"type:text"`
	ReflectionText  string `gorm:"type:text"`
	NarrationScript string `gorm:"type:text"`
	ImagePrompt     string `gorm:"type:text"`
	RejectionNote   string `gorm:"type:text"`
	VideoURL        string
	ThumbnailURL    string
	AIVideoURL      string
	CreatedAt       time.Time `gorm:"not null"`
	UpdatedAt       time.Time `gorm:"not null"`
}

type CreatorModel struct {
	ID              string `gorm:"primaryKey"`
	UserID          string `gorm:"index"`
	Name            string `gorm:"not null"`
	Email           string `gorm:"not null"`
	Languages       datatypes.JSON
	CanFaith        bool `gorm:"not null"`
	CanUplift       bool `gorm:"not null"`
	MonthlyCapacity int  `gorm:"not null"`
	Active          bool `gorm:"not null;index"`
	AvatarID        string
	VoiceID         string
	CreatedAt       time.Time `gorm:"not null"`
	UpdatedAt       time.Time `gorm:"not null"`
}

type UsedVerseModel struct {
	ID            uint   `gorm:"primaryKey;autoIncrement"`
	Book          string `gorm:"not null;uniqueIndex:idx_used_verse,priority:1"`
	Chapter       int    `gorm:"not null;uniqueIndex:idx_used_verse,priority:2"`
	Verse         int    `gorm:"not null;uniqueIndex:idx_used_verse,priority:3"`
	Reference     string `gorm:"not null"`
	ContentItemID string `gorm:"not null;uniqueIndex"`
	UsedOn        string `gorm:"type:varchar(10);not null"`
	CreatedAt     time.Time
}

type GenerationLogModel struct {
	ID              string `gorm:"primaryKey"`
	ContentItemID   string `gorm:"not null;index:idx_generation_item_field,priority:1"`
	Field           string `gorm:"not null;index:idx_generation_item_field,priority:2"`
	TranslationCode string
	Status          string `gorm:"type:varchar(16);not null;index"`
	ErrorMessage    string `gorm:"type:text"`
	DurationMs      *int64
	ProviderJobID   *string `gorm:"uniqueIndex"`
	Attempt         int     `gorm:"not null"`
	Payload         datatypes.JSON
	CreatedAt       time.Time `gorm:"not null;index"`
	SettledAt       *time.Time
}
