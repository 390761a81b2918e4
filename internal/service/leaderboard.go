package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/mmeshcher/claimboard/internal/model"
)

// Leaderboard строит лидерборд за окно указанного типа относительно момента now.
func (s *Service) Leaderboard(ctx context.Context, kind model.WindowKind, now time.Time) ([]model.AggregateRow, error) {
	w, err := s.calendar.Window(kind, now)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	return s.Aggregate(ctx, w)
}

// Aggregate суммирует баллы пользователей внутри окна.
//
// Все типы окон сортируются одинаково: по сумме по убыванию, затем по имени.
func (s *Service) Aggregate(ctx context.Context, w model.TimeWindow) ([]model.AggregateRow, error) {
	var claims []model.ClaimEvent
	err := s.call(ctx, func(ctx context.Context) error {
		var err error
		claims, err = s.repo.ClaimsInWindow(ctx, w)
		return err
	})
	if err != nil {
		return nil, err
	}

	return rankClaims(claims), nil
}

func rankClaims(claims []model.ClaimEvent) []model.AggregateRow {
	totals := make(map[string]int64)
	for _, c := range claims {
		totals[c.Username] += c.PointsAwarded
	}

	rows := make([]model.AggregateRow, 0, len(totals))
	for username, total := range totals {
		rows = append(rows, model.AggregateRow{Username: username, TotalPoints: total})
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].TotalPoints != rows[j].TotalPoints {
			return rows[i].TotalPoints > rows[j].TotalPoints
		}
		return rows[i].Username < rows[j].Username
	})

	for i := range rows {
		rows[i].Rank = i + 1
	}

	return rows
}
