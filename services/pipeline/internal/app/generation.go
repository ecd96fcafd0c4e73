package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"devotionai/internal/util"
	"devotionai/pkg/domain"
	"devotionai/pkg/store"
)

const devotionalSystemPrompt = "You write short daily devotional content for a video series. " +
	"Be warm, concrete and encouraging. Do not invent quotations. Reply with plain text only."

var textFields = map[string]bool{
	domain.FieldReflection:      true,
	domain.FieldNarrationScript: true,
	domain.FieldImagePrompt:     true,
}

// GenerateText fills one text field of an item synchronously and logs the attempt.
func (a *App) GenerateText(ctx context.Context, contentItemID, field string) (domain.GenerationLogEntry, error) {
	field = strings.TrimSpace(field)
	if !textFields[field] {
		return domain.GenerationLogEntry{}, fmt.Errorf("%w: field %q cannot be generated as text", domain.ErrInvalidInput, field)
	}
	if a.text == nil {
		return domain.GenerationLogEntry{}, fmt.Errorf("%w: text generation not configured", domain.ErrProviderError)
	}
	item, err := a.GetContent(ctx, contentItemID)
	if err != nil {
		return domain.GenerationLogEntry{}, err
	}
	entry, err := a.startAttempt(ctx, item.ID, field, nil)
	if err != nil {
		return domain.GenerationLogEntry{}, err
	}

	started := a.now()
	text, genErr := a.text.GenerateText(ctx, devotionalSystemPrompt, textPrompt(item, field))
	if genErr == nil && strings.TrimSpace(text) == "" {
		genErr = errors.New("empty generation")
	}
	elapsed := durationSince(started, a.now())

	if genErr != nil {
		if _, err := a.store.SettleGenerationLog(ctx, entry.ID, domain.GenerationFailed, genErr.Error(), elapsed, a.now()); err != nil {
			a.logger.ErrorContext(ctx, "generation_settle_failed", "log_id", entry.ID, "err", err)
		}
		a.logger.WarnContext(ctx, "text_generation_failed", "content_item_id", item.ID, "field", field, "err", genErr)
		return domain.GenerationLogEntry{}, fmt.Errorf("%w: %v", domain.ErrProviderError, genErr)
	}

	err = a.store.InTx(ctx, func(tx store.Tx) error {
		won, err := tx.SettleGenerationLog(ctx, entry.ID, domain.GenerationSuccess, "", elapsed, a.now())
		if err != nil || !won {
			return err
		}
		if err := tx.SetContentField(ctx, item.ID, field, strings.TrimSpace(text)); err != nil {
			return err
		}
		if field == domain.FieldNarrationScript {
			return markGenerated(ctx, tx, item.ID)
		}
		return nil
	})
	if err != nil {
		return domain.GenerationLogEntry{}, err
	}
	out, _, err := a.store.GetGenerationLog(ctx, entry.ID)
	if err != nil {
		return domain.GenerationLogEntry{}, err
	}
	a.logger.InfoContext(ctx, "text_generated", "content_item_id", item.ID, "field", field, "duration_ms", elapsed)
	return out, nil
}

// startAttempt commits a started log row before any provider call.
func (a *App) startAttempt(ctx context.Context, contentItemID, field string, payload json.RawMessage) (domain.GenerationLogEntry, error) {
	var entry domain.GenerationLogEntry
	err := a.store.InTx(ctx, func(tx store.Tx) error {
		n, err := tx.CountGenerationAttempts(ctx, contentItemID, field)
		if err != nil {
			return err
		}
		entry = domain.GenerationLogEntry{
			ID:            util.NewOrderedID(),
			ContentItemID: contentItemID,
			Field:         field,
			Status:        domain.GenerationStarted,
			Attempt:       n + 1,
			Payload:       payload,
			CreatedAt:     a.now(),
		}
		return tx.CreateGenerationLog(ctx, entry)
	})
	return entry, err
}

func textPrompt(item domain.ContentItem, field string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Date: %s\nLanguage: %s\n", item.PostDate, item.Language)
	if item.Mode == domain.ModeBible && item.VerseReference != "" {
		fmt.Fprintf(&b, "Verse: %s\n", item.VerseReference)
	} else {
		b.WriteString("Theme: everyday positivity and gratitude\n")
	}
	if item.ReflectionText != "" && field != domain.FieldReflection {
		fmt.Fprintf(&b, "Reflection:\n%s\n", item.ReflectionText)
	}
	b.WriteString("\n")
	switch field {
	case domain.FieldReflection:
		b.WriteString("Write a reflection of about 150 words for today's post.")
	case domain.FieldNarrationScript:
		b.WriteString("Write a 45 second spoken narration script for a presenter to read on camera.")
	case domain.FieldImagePrompt:
		b.WriteString("Write one sentence describing a background image for this post. No text in the image.")
	}
	return b.String()
}

// durationSince reports whole milliseconds elapsed; zero when the clock went backwards.
func durationSince(start, end time.Time) int64 {
	if end.Before(start) {
		return 0
	}
	return end.Sub(start).Milliseconds()
}
