package app

import (
	"context"
	"fmt"
	"strings"

	"devotionai/pkg/domain"
	"devotionai/pkg/store"
)

// Submit records the creator's recorded video for review.
// Legal from assigned or rejected; only the assigned creator may submit.
func (a *App) Submit(ctx context.Context, principal domain.Principal, contentItemID, videoURL, thumbnailURL string) (domain.ContentItem, error) {
	videoURL = strings.TrimSpace(videoURL)
	if videoURL == "" {
		return domain.ContentItem{}, fmt.Errorf("%w: video url required", domain.ErrInvalidInput)
	}
	if strings.TrimSpace(principal.UserID) == "" {
		return domain.ContentItem{}, fmt.Errorf("%w: anonymous caller", domain.ErrForbidden)
	}
	var out domain.ContentItem
	err := a.store.InTx(ctx, func(tx store.Tx) error {
		item, err := lockItem(ctx, tx, contentItemID)
		if err != nil {
			return err
		}
		if item.CreatorID == "" {
			return fmt.Errorf("%w: cannot submit from %s", domain.ErrInvalidTransition, item.Status)
		}
		creator, ok, err := tx.GetCreatorByUserID(ctx, principal.UserID)
		if err != nil {
			return err
		}
		if !ok || item.CreatorID == "" || creator.ID != item.CreatorID {
			return fmt.Errorf("%w: only the assigned creator can submit", domain.ErrForbidden)
		}
		switch item.Status {
		case domain.StatusAssigned, domain.StatusRejected:
		case domain.StatusSubmitted:
			return domain.ErrAlreadySubmitted
		case domain.StatusApproved:
			return domain.ErrAlreadyApproved
		default:
			return fmt.Errorf("%w: cannot submit from %s", domain.ErrInvalidTransition, item.Status)
		}
		item.Status = domain.StatusSubmitted
		item.VideoURL = videoURL
		item.ThumbnailURL = strings.TrimSpace(thumbnailURL)
		item.RejectionNote = ""
		if err := tx.UpdateContentItem(ctx, item); err != nil {
			return err
		}
		out = item
		return nil
	})
	if err != nil {
		return domain.ContentItem{}, err
	}
	a.logger.InfoContext(ctx, "content_submitted", "content_item_id", out.ID, "creator_id", out.CreatorID)
	return out, nil
}

// Approve accepts a submitted video.
func (a *App) Approve(ctx context.Context, principal domain.Principal, contentItemID string) (domain.ContentItem, error) {
	if !principal.IsAdmin() {
		return domain.ContentItem{}, fmt.Errorf("%w: admin only", domain.ErrForbidden)
	}
	var out domain.ContentItem
	err := a.store.InTx(ctx, func(tx store.Tx) error {
		item, err := lockItem(ctx, tx, contentItemID)
		if err != nil {
			return err
		}
		if item.Status != domain.StatusSubmitted {
			return fmt.Errorf("%w: cannot approve from %s", domain.ErrInvalidTransition, item.Status)
		}
		item.Status = domain.StatusApproved
		if err := tx.UpdateContentItem(ctx, item); err != nil {
			return err
		}
		out = item
		return nil
	})
	if err != nil {
		return domain.ContentItem{}, err
	}
	a.logger.InfoContext(ctx, "content_approved", "content_item_id", out.ID, "reviewer", principal.UserID)
	return out, nil
}

// Reject sends a submitted video back to its creator with a note.
func (a *App) Reject(ctx context.Context, principal domain.Principal, contentItemID, note string) (domain.ContentItem, error) {
	if !principal.IsAdmin() {
		return domain.ContentItem{}, fmt.Errorf("%w: admin only", domain.ErrForbidden)
	}
	note = strings.TrimSpace(note)
	if note == "" {
		return domain.ContentItem{}, fmt.Errorf("%w: rejection note required", domain.ErrInvalidInput)
	}
	var (
		out    domain.ContentItem
		notice RejectionNotice
	)
	err := a.store.InTx(ctx, func(tx store.Tx) error {
		item, err := lockItem(ctx, tx, contentItemID)
		if err != nil {
			return err
		}
		if item.Status != domain.StatusSubmitted {
			return fmt.Errorf("%w: cannot reject from %s", domain.ErrInvalidTransition, item.Status)
		}
		item.Status = domain.StatusRejected
		item.RejectionNote = note
		if err := tx.UpdateContentItem(ctx, item); err != nil {
			return err
		}
		notice = RejectionNotice{CreatorID: item.CreatorID, PostDate: item.PostDate, Note: note, Mode: item.Mode, ItemID: item.ID}
		if item.CreatorID != "" {
			creator, ok, err := tx.GetCreator(ctx, item.CreatorID)
			if err != nil {
				return err
			}
			if ok {
				notice.Email = creator.Email
				notice.Name = creator.Name
			}
		}
		out = item
		return nil
	})
	if err != nil {
		return domain.ContentItem{}, err
	}
	if notice.Email != "" {
		a.notifyRejection(ctx, notice)
	}
	a.logger.InfoContext(ctx, "content_rejected", "content_item_id", out.ID, "reviewer", principal.UserID)
	return out, nil
}

// MarkGenerated moves an empty item to generated. Other states are left alone.
func (a *App) MarkGenerated(ctx context.Context, contentItemID string) error {
	return a.store.InTx(ctx, func(tx store.Tx) error {
		return markGenerated(ctx, tx, contentItemID)
	})
}

func markGenerated(ctx context.Context, tx store.Tx, contentItemID string) error {
	item, err := lockItem(ctx, tx, contentItemID)
	if err != nil {
		return err
	}
	if item.Status != domain.StatusEmpty {
		return nil
	}
	item.Status = domain.StatusGenerated
	return tx.UpdateContentItem(ctx, item)
}

func lockItem(ctx context.Context, tx store.Tx, id string) (domain.ContentItem, error) {
	item, ok, err := tx.LockContentItem(ctx, id)
	if err != nil {
		return domain.ContentItem{}, err
	}
	if !ok {
		return domain.ContentItem{}, fmt.Errorf("%w: content item %s", domain.ErrNotFound, id)
	}
	return item, nil
}
