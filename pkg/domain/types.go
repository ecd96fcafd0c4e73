package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// ContentStatus is the lifecycle state of a content item.
type ContentStatus string

const (
	StatusEmpty     ContentStatus = "empty"
	StatusGenerated ContentStatus = "generated"
	StatusAssigned  ContentStatus = "assigned"
	StatusSubmitted ContentStatus = "submitted"
	StatusApproved  ContentStatus = "approved"
	StatusRejected  ContentStatus = "rejected"
)

// Mode is the content track of an item.
type Mode string

const (
	ModeBible      Mode = "bible"
	ModePositivity Mode = "positivity"
)

// ParseMode normalizes a mode string.
func ParseMode(raw string) (Mode, bool) {
	switch Mode(strings.ToLower(strings.TrimSpace(raw))) {
	case ModeBible:
		return ModeBible, true
	case ModePositivity:
		return ModePositivity, true
	default:
		return "", false
	}
}

type UserRole string

const (
	RoleUser    UserRole = "user"
	RoleCreator UserRole = "creator"
	RoleAdmin   UserRole = "admin"
)

// Principal is the authenticated caller as asserted by the auth service.
type Principal struct {
	UserID string   `json:"userId"`
	Role   UserRole `json:"role"`
}

// IsAdmin reports whether the principal carries the admin role.
func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

// Generation log statuses.
type GenerationStatus string

const (
	GenerationStarted GenerationStatus = "started"
	GenerationSuccess GenerationStatus = "success"
	GenerationFailed  GenerationStatus = "failed"
)

// Terminal reports whether no further writes are expected for the attempt.
func (s GenerationStatus) Terminal() bool {
	return s == GenerationSuccess || s == GenerationFailed
}

// Generated fields tracked by the generation log.
const (
	FieldReflection      = "reflection"
	FieldNarrationScript = "narration_script"
	FieldImagePrompt     = "image_prompt"
	FieldAvatarVideo     = "avatar_video"
	FieldTextToSpeech    = "text_to_speech"
)

// DateLayout is the canonical post date format.
const DateLayout = "2006-01-02"

// MonthLayout is the canonical month format used by assignment operations.
const MonthLayout = "2006-01"

type ContentItem struct {
	ID              string        `json:"id"`
	PostDate        string        `json:"postDate"`
	Mode            Mode          `json:"mode"`
	Language        string        `json:"language"`
	Status          ContentStatus `json:"status"`
	CreatorID       string        `json:"creatorId,omitempty"`
	VerseReference  string        `json:"verseReference,omitempty"`
	ScriptText      string        `json:"scriptText,omitempty"`
	ReflectionText  string        `json:"reflectionText,omitempty"`
	NarrationScript string        `json:"narrationScript,omitempty"`
	ImagePrompt     string        `json:"imagePrompt,omitempty"`
	RejectionNote   string        `json:"rejectionNote,omitempty"`
	VideoURL        string        `json:"videoUrl,omitempty"`
	ThumbnailURL    string        `json:"thumbnailUrl,omitempty"`
	AIVideoURL      string        `json:"aiVideoUrl,omitempty"`
	CreatedAt       time.Time     `json:"createdAt"`
	UpdatedAt       time.Time     `json:"updatedAt"`
}

type Creator struct {
	ID              string    `json:"id"`
	UserID          string    `json:"userId,omitempty"`
	Name            string    `json:"name"`
	Email           string    `json:"email"`
	Languages       []string  `json:"languages"`
	CanFaith        bool      `json:"canFaith"`
	CanUplift       bool      `json:"canUplift"`
	MonthlyCapacity int       `json:"monthlyCapacity"`
	Active          bool      `json:"active"`
	AvatarID        string    `json:"avatarId,omitempty"`
	VoiceID         string    `json:"voiceId,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// Speaks reports whether the creator supports the language.
func (c Creator) Speaks(language string) bool {
	language = strings.ToLower(strings.TrimSpace(language))
	for _, l := range c.Languages {
		if strings.ToLower(strings.TrimSpace(l)) == language {
			return true
		}
	}
	return false
}

// Supports reports whether the creator can produce the mode.
func (c Creator) Supports(mode Mode) bool {
	switch mode {
	case ModeBible:
		return c.CanFaith
	case ModePositivity:
		return c.CanUplift
	default:
		return false
	}
}

// UsedVerse records a verse consumed by a content item.
type UsedVerse struct {
	Book          string    `json:"book"`
	Chapter       int       `json:"chapter"`
	Verse         int       `json:"verse"`
	Reference     string    `json:"reference"`
	ContentItemID string    `json:"contentItemId"`
	UsedOn        string    `json:"usedOn"`
	CreatedAt     time.Time `json:"createdAt"`
}

// VerseKey identifies a verse independent of its formatting.
type VerseKey struct {
	Book    string
	Chapter int
	Verse   int
}

type GenerationLogEntry struct {
	ID              string           `json:"id"`
	ContentItemID   string           `json:"contentItemId"`
	Field           string           `json:"field"`
	TranslationCode string           `json:"translationCode,omitempty"`
	Status          GenerationStatus `json:"status"`
	ErrorMessage    string           `json:"errorMessage,omitempty"`
	DurationMs      *int64           `json:"durationMs,omitempty"`
	ProviderJobID   string           `json:"providerJobId,omitempty"`
	Attempt         int              `json:"attempt"`
	Payload         json.RawMessage  `json:"payload,omitempty"`
	CreatedAt       time.Time        `json:"createdAt"`
	SettledAt       *time.Time       `json:"settledAt,omitempty"`
}
