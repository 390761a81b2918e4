package service

import (
	"context"

	"github.com/mmeshcher/claimboard/internal/model"
)

// InvalidDate подставляется вместо даты начисления с пустой или повреждённой меткой времени.
const InvalidDate = "Invalid date"

const historyDateLayout = "02 Jan 2006"

// History возвращает начисления пользователя в хронологическом порядке.
func (s *Service) History(ctx context.Context, username string) ([]model.HistoryEntry, error) {
	user, err := s.UserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}

	var claims []model.ClaimEvent
	err = s.call(ctx, func(ctx context.Context) error {
		var err error
		claims, err = s.repo.ClaimsByUser(ctx, user.Username)
		return err
	})
	if err != nil {
		return nil, err
	}

	entries := make([]model.HistoryEntry, 0, len(claims))
	for _, c := range claims {
		entries = append(entries, model.HistoryEntry{
			PointsAwarded: c.PointsAwarded,
			Date:          formatClaimDate(c),
		})
	}

	return entries, nil
}

func formatClaimDate(c model.ClaimEvent) string {
	if c.CreatedAt.IsZero() {
		return InvalidDate
	}
	return c.CreatedAt.UTC().Format(historyDateLayout)
}
