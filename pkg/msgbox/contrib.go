package msgbox

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"threadbox/pkg/logger"
	"threadbox/pkg/models"
)

const (
	// contributionTTL is how long a contributor counts as recently active.
	contributionTTL = 30 * 24 * time.Hour
	// DefaultContributionLimit is the page size of GetRecentContributions.
	DefaultContributionLimit = 5
	// MaxContributionLimit caps it.
	MaxContributionLimit = 100
)

func contribPrefix(messageBoxID string) string {
	return "contrib:" + messageBoxID + ":"
}

func contribRowKey(messageBoxID, contributorID string) string {
	return contribPrefix(messageBoxID) + contributorID
}

// recordContribution refreshes the contributor's recency marker. It runs
// asynchronously after message creation; failures are logged, never
// surfaced, since the message itself is already durable.
func (s *Store) recordContribution(messageBoxID, contributorID string, active int64) {
	c := models.Contribution{
		MessageBoxID:  messageBoxID,
		ContributorID: contributorID,
		LastActive:    active,
		Expires:       s.now().Add(contributionTTL).UnixMilli(),
	}
	data, err := json.Marshal(c)
	if err != nil {
		logger.Error("contribution_marshal_failed", "box", messageBoxID, "contributor", contributorID, "error", err)
		return
	}
	if err := s.rows.SetWithTTL(contribRowKey(messageBoxID, contributorID), data, time.UnixMilli(c.Expires)); err != nil {
		logger.Error("contribution_write_failed", "box", messageBoxID, "contributor", contributorID, "error", err)
	}
}

// GetRecentContributions returns the box's recently active contributors,
// most recent first, at most one entry per contributor. start, when
// non-empty, is the contributor id the page resumes strictly after.
func (s *Store) GetRecentContributions(ctx context.Context, messageBoxID, start string, limit int) ([]string, error) {
	if messageBoxID == "" {
		return nil, invalid("messageBoxId", "must not be empty")
	}
	if limit <= 0 {
		limit = DefaultContributionLimit
	}
	if limit > MaxContributionLimit {
		limit = MaxContributionLimit
	}

	var all []models.Contribution
	cursor := ""
	now := s.now().UnixMilli()
	for {
		entries, token, err := s.rows.Scan(contribPrefix(messageBoxID), cursor, MaxContributionLimit, false)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			var c models.Contribution
			if err := json.Unmarshal(e.Value, &c); err != nil {
				logger.Warn("contribution_row_corrupt", "key", e.Key, "error", err)
				continue
			}
			if c.Expires <= now {
				// dead row the sweeper has not reached yet
				continue
			}
			all = append(all, c)
		}
		if token == "" {
			break
		}
		cursor = token
	}

	sort.Slice(all, func(i, j int) bool {
		if all[i].LastActive != all[j].LastActive {
			return all[i].LastActive > all[j].LastActive
		}
		return all[i].ContributorID < all[j].ContributorID
	})

	out := make([]string, 0, limit)
	skipping := start != ""
	for _, c := range all {
		if skipping {
			if c.ContributorID == start {
				skipping = false
			}
			continue
		}
		out = append(out, c.ContributorID)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}
