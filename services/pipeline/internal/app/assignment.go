package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"devotionai/pkg/domain"
	"devotionai/pkg/store"
)

// AssignResult summarizes one auto-assign run.
type AssignResult struct {
	Assigned int `json:"assigned"`
	Skipped  int `json:"skipped"`
}

var assignableStatuses = []domain.ContentStatus{domain.StatusEmpty, domain.StatusGenerated}

var reassignableStatuses = []domain.ContentStatus{
	domain.StatusEmpty,
	domain.StatusGenerated,
	domain.StatusAssigned,
	domain.StatusRejected,
}

// monthRange parses YYYY-MM into the [first day, first day of next month) window.
func monthRange(month string) (string, string, error) {
	start, err := time.Parse(domain.MonthLayout, strings.TrimSpace(month))
	if err != nil {
		return "", "", fmt.Errorf("%w: month must be YYYY-MM", domain.ErrInvalidInput)
	}
	return start.Format(domain.DateLayout), start.AddDate(0, 1, 0).Format(domain.DateLayout), nil
}

func monthOf(postDate string) (string, error) {
	d, err := time.Parse(domain.DateLayout, postDate)
	if err != nil {
		return "", fmt.Errorf("%w: bad post date %q", domain.ErrInvalidInput, postDate)
	}
	return d.Format(domain.MonthLayout), nil
}

type assignee struct {
	creator   domain.Creator
	remaining int
	itemIDs   []string
}

// AutoAssign distributes the unassigned days of a month round-robin over
// eligible creators. Creators are visited in ascending id order and each
// row goes to the next creator after the previous winner that can take it.
func (a *App) AutoAssign(ctx context.Context, month string, mode domain.Mode, language string) (AssignResult, error) {
	from, to, err := monthRange(month)
	if err != nil {
		return AssignResult{}, err
	}
	mode, ok := domain.ParseMode(string(mode))
	if !ok {
		return AssignResult{}, fmt.Errorf("%w: unknown mode", domain.ErrInvalidInput)
	}
	language = strings.ToLower(strings.TrimSpace(language))

	var (
		result    AssignResult
		assignees []*assignee
	)
	err = a.store.InTx(ctx, func(tx store.Tx) error {
		creators, err := tx.LockActiveCreators(ctx)
		if err != nil {
			return fmt.Errorf("lock creators: %w", err)
		}
		items, err := tx.LockUnassignedContent(ctx, store.ContentFilter{From: from, To: to, Mode: mode, Language: language}, assignableStatuses)
		if err != nil {
			return fmt.Errorf("lock content: %w", err)
		}
		counts, err := tx.CountAssignments(ctx, from, to)
		if err != nil {
			return fmt.Errorf("count assignments: %w", err)
		}

		assignees = assignees[:0]
		for _, c := range creators {
			if !c.Active || !c.Supports(mode) {
				continue
			}
			assignees = append(assignees, &assignee{creator: c, remaining: c.MonthlyCapacity - counts[c.ID]})
		}

		result = AssignResult{}
		next := 0
		for _, item := range items {
			picked := -1
			for step := 0; step < len(assignees); step++ {
				idx := (next + step) % len(assignees)
				cand := assignees[idx]
				if cand.remaining > 0 && cand.creator.Speaks(item.Language) {
					picked = idx
					break
				}
			}
			if picked < 0 {
				result.Skipped++
				continue
			}
			cand := assignees[picked]
			won, err := tx.AssignContentItem(ctx, item.ID, cand.creator.ID, assignableStatuses)
			if err != nil {
				return fmt.Errorf("assign %s: %w", item.ID, err)
			}
			if !won {
				result.Skipped++
				continue
			}
			cand.remaining--
			cand.itemIDs = append(cand.itemIDs, item.ID)
			result.Assigned++
			next = picked + 1
		}
		return nil
	})
	if err != nil {
		return AssignResult{}, err
	}

	for _, as := range assignees {
		if len(as.itemIDs) == 0 {
			continue
		}
		a.notifyAssignment(ctx, AssignmentNotice{
			CreatorID: as.creator.ID,
			Email:     as.creator.Email,
			Name:      as.creator.Name,
			Month:     month,
			Mode:      mode,
			Count:     len(as.itemIDs),
			ItemIDs:   as.itemIDs,
		})
	}
	a.logger.InfoContext(ctx, "auto_assign", "month", month, "mode", mode, "language", language, "assigned", result.Assigned, "skipped", result.Skipped)
	return result, nil
}

// ReassignDay moves one day to another creator. A rejected day handed back to
// its current creator returns to assigned without a new notice.
// Locks follow AutoAssign's order: creator row first, then the item.
func (a *App) ReassignDay(ctx context.Context, contentItemID, creatorID string) error {
	var notice *AssignmentNotice
	err := a.store.InTx(ctx, func(tx store.Tx) error {
		creator, creatorFound, err := tx.LockCreator(ctx, creatorID)
		if err != nil {
			return err
		}
		item, ok, err := tx.LockContentItem(ctx, contentItemID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: content item %s", domain.ErrNotFound, contentItemID)
		}
		switch item.Status {
		case domain.StatusSubmitted:
			return fmt.Errorf("%w: cannot reassign submitted content", domain.ErrInvalidTransition)
		case domain.StatusApproved:
			return fmt.Errorf("%w: cannot reassign approved content", domain.ErrInvalidTransition)
		}
		if !containsStatus(reassignableStatuses, item.Status) {
			return fmt.Errorf("%w: cannot reassign from %s", domain.ErrInvalidTransition, item.Status)
		}
		if !creatorFound {
			return fmt.Errorf("%w: %s", domain.ErrCreatorNotFound, creatorID)
		}
		switch {
		case !creator.Active:
			return fmt.Errorf("%w: creator is inactive", domain.ErrCreatorIncapable)
		case !creator.Speaks(item.Language):
			return fmt.Errorf("%w: creator does not speak %s", domain.ErrCreatorIncapable, item.Language)
		case !creator.Supports(item.Mode):
			return fmt.Errorf("%w: creator cannot produce %s content", domain.ErrCreatorIncapable, item.Mode)
		}

		if item.CreatorID == creator.ID {
			// already counted against this creator's month
			if item.Status != domain.StatusRejected {
				return nil
			}
			item.Status = domain.StatusAssigned
			return tx.UpdateContentItem(ctx, item)
		}

		month, err := monthOf(item.PostDate)
		if err != nil {
			return err
		}
		from, to, _ := monthRange(month)
		counts, err := tx.CountAssignments(ctx, from, to)
		if err != nil {
			return fmt.Errorf("count assignments: %w", err)
		}
		if counts[creator.ID] >= creator.MonthlyCapacity {
			return fmt.Errorf("%w: creator has no capacity left in %s", domain.ErrCreatorIncapable, month)
		}

		item.CreatorID = creator.ID
		item.Status = domain.StatusAssigned
		if err := tx.UpdateContentItem(ctx, item); err != nil {
			return err
		}
		notice = &AssignmentNotice{
			CreatorID: creator.ID,
			Email:     creator.Email,
			Name:      creator.Name,
			Month:     month,
			Mode:      item.Mode,
			Count:     1,
			ItemIDs:   []string{item.ID},
		}
		return nil
	})
	if err != nil {
		return err
	}
	a.logger.InfoContext(ctx, "reassign_day", "content_item_id", contentItemID, "creator_id", creatorID, "notified", notice != nil)
	if notice != nil {
		a.notifyAssignment(ctx, *notice)
	}
	return nil
}

func containsStatus(list []domain.ContentStatus, s domain.ContentStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
