package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"devotionai/internal/util"
	"devotionai/pkg/domain"
	"devotionai/pkg/store"
	"devotionai/pkg/verse"
)

const defaultLanguage = "en"

// verse selection races with concurrent seeders; retry with a fresh pick.
const verseAttempts = 3

var errVerseTaken = errors.New("verse already used")

// SeedResult summarizes a month seeding run.
type SeedResult struct {
	Created int `json:"created"`
	Skipped int `json:"skipped"`
}

// CreateDay creates the empty content row for one date. Bible days get an
// unused verse, recorded in the same transaction after the row exists.
func (a *App) CreateDay(ctx context.Context, date string, mode domain.Mode, language string) (domain.ContentItem, error) {
	day, err := time.Parse(domain.DateLayout, strings.TrimSpace(date))
	if err != nil {
		return domain.ContentItem{}, fmt.Errorf("%w: date must be YYYY-MM-DD", domain.ErrInvalidInput)
	}
	mode, ok := domain.ParseMode(string(mode))
	if !ok {
		return domain.ContentItem{}, fmt.Errorf("%w: unknown mode", domain.ErrInvalidInput)
	}
	language = normalizeLanguage(language)

	for attempt := 1; ; attempt++ {
		item := domain.ContentItem{
			ID:       util.NewID(),
			PostDate: day.Format(domain.DateLayout),
			Mode:     mode,
			Language: language,
			Status:   domain.StatusEmpty,
		}
		var ref verse.Reference
		if mode == domain.ModeBible {
			ref, err = a.selector.SelectUnused(ctx)
			if err != nil {
				return domain.ContentItem{}, err
			}
			item.VerseReference = ref.String()
		}
		err = a.store.InTx(ctx, func(tx store.Tx) error {
			if err := tx.CreateContentItem(ctx, item); err != nil {
				return err
			}
			if mode != domain.ModeBible {
				return nil
			}
			err := tx.RecordUsedVerse(ctx, domain.UsedVerse{
				Book:          ref.Book,
				Chapter:       ref.Chapter,
				Verse:         ref.Verse,
				Reference:     ref.String(),
				ContentItemID: item.ID,
				UsedOn:        item.PostDate,
			})
			if errors.Is(err, domain.ErrConflict) {
				return errVerseTaken
			}
			return err
		})
		if errors.Is(err, errVerseTaken) && attempt < verseAttempts {
			a.logger.WarnContext(ctx, "verse_taken_retry", "reference", ref.String(), "attempt", attempt)
			continue
		}
		if errors.Is(err, errVerseTaken) {
			return domain.ContentItem{}, fmt.Errorf("%w: could not reserve a verse for %s", domain.ErrConflict, item.PostDate)
		}
		if err != nil {
			return domain.ContentItem{}, err
		}
		return item, nil
	}
}

// SeedMonth creates every missing day of a month. Existing days are skipped.
// It stops early when the verse pool runs out, returning what was created.
func (a *App) SeedMonth(ctx context.Context, month string, mode domain.Mode, language string) (SeedResult, error) {
	from, to, err := monthRange(month)
	if err != nil {
		return SeedResult{}, err
	}
	start, _ := time.Parse(domain.DateLayout, from)
	end, _ := time.Parse(domain.DateLayout, to)

	var res SeedResult
	for d := start; d.Before(end); d = d.AddDate(0, 0, 1) {
		_, err := a.CreateDay(ctx, d.Format(domain.DateLayout), mode, language)
		switch {
		case err == nil:
			res.Created++
		case errors.Is(err, domain.ErrConflict):
			res.Skipped++
		default:
			return res, err
		}
	}
	a.logger.InfoContext(ctx, "seed_month", "month", month, "mode", mode, "created", res.Created, "skipped", res.Skipped)
	return res, nil
}

// GetContent returns one item.
func (a *App) GetContent(ctx context.Context, id string) (domain.ContentItem, error) {
	item, ok, err := a.store.GetContentItem(ctx, id)
	if err != nil {
		return domain.ContentItem{}, err
	}
	if !ok {
		return domain.ContentItem{}, fmt.Errorf("%w: content item %s", domain.ErrNotFound, id)
	}
	return item, nil
}

// ListContent lists the items of a month, optionally narrowed by mode and language.
func (a *App) ListContent(ctx context.Context, month string, mode domain.Mode, language string) ([]domain.ContentItem, error) {
	from, to, err := monthRange(month)
	if err != nil {
		return nil, err
	}
	filter := store.ContentFilter{From: from, To: to, Language: strings.ToLower(strings.TrimSpace(language))}
	if mode != "" {
		m, ok := domain.ParseMode(string(mode))
		if !ok {
			return nil, fmt.Errorf("%w: unknown mode", domain.ErrInvalidInput)
		}
		filter.Mode = m
	}
	return a.store.ListContentItems(ctx, filter)
}

// ListGenerationLogs returns the attempts recorded for an item.
func (a *App) ListGenerationLogs(ctx context.Context, contentItemID string) ([]domain.GenerationLogEntry, error) {
	if _, err := a.GetContent(ctx, contentItemID); err != nil {
		return nil, err
	}
	return a.store.ListGenerationLogs(ctx, contentItemID)
}

// ResetVerses clears the used-verse history so the pool can be reused.
func (a *App) ResetVerses(ctx context.Context) (int64, error) {
	n, err := a.store.ResetUsedVerses(ctx)
	if err != nil {
		return 0, err
	}
	a.logger.InfoContext(ctx, "verses_reset", "count", n)
	return n, nil
}

// SaveCreator registers or updates a creator profile.
func (a *App) SaveCreator(ctx context.Context, c domain.Creator) (domain.Creator, error) {
	c.Name = strings.TrimSpace(c.Name)
	c.Email = strings.TrimSpace(c.Email)
	if c.Name == "" || c.Email == "" {
		return domain.Creator{}, fmt.Errorf("%w: name and email required", domain.ErrInvalidInput)
	}
	if c.MonthlyCapacity < 0 {
		return domain.Creator{}, fmt.Errorf("%w: monthly capacity must not be negative", domain.ErrInvalidInput)
	}
	langs := make([]string, 0, len(c.Languages))
	for _, l := range c.Languages {
		if l = strings.ToLower(strings.TrimSpace(l)); l != "" {
			langs = append(langs, l)
		}
	}
	if len(langs) == 0 {
		return domain.Creator{}, fmt.Errorf("%w: at least one language required", domain.ErrInvalidInput)
	}
	c.Languages = langs
	if strings.TrimSpace(c.ID) == "" {
		c.ID = util.NewID()
	}
	if err := a.store.SaveCreator(ctx, c); err != nil {
		return domain.Creator{}, err
	}
	saved, _, err := a.store.GetCreator(ctx, c.ID)
	if err != nil {
		return domain.Creator{}, err
	}
	return saved, nil
}

func normalizeLanguage(language string) string {
	language = strings.ToLower(strings.TrimSpace(language))
	if language == "" {
		return defaultLanguage
	}
	return language
}
