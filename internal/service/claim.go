package service

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/google/uuid"

	"github.com/mmeshcher/claimboard/internal/model"
)

// Границы начисления за один claim.
const (
	MinPoints int64 = 1
	MaxPoints int64 = 10
)

// PointsSource выбирает количество начисляемых баллов.
type PointsSource interface {
	Draw() int64
}

// UniformPoints выбирает баллы равномерно из [MinPoints, MaxPoints].
type UniformPoints struct{}

// Draw возвращает случайное количество баллов.
func (UniformPoints) Draw() int64 {
	return MinPoints + rand.Int63n(MaxPoints-MinPoints+1)
}

// PointsFunc позволяет использовать функцию как PointsSource.
type PointsFunc func() int64

// Draw вызывает f.
func (f PointsFunc) Draw() int64 { return f() }

// Claim начисляет пользователю случайное количество баллов.
//
// Событие журнала получает идентификатор до первой попытки записи,
// поэтому повтор после таймаута не приводит к двойному начислению.
func (s *Service) Claim(ctx context.Context, username string) (*model.ClaimResult, error) {
	user, err := s.UserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}

	points := s.points.Draw()
	if points < MinPoints || points > MaxPoints {
		return nil, fmt.Errorf("points source returned %d, want value in [%d, %d]", points, MinPoints, MaxPoints)
	}

	claim := model.ClaimEvent{
		ID:            uuid.New(),
		UserID:        user.ID,
		Username:      user.Username,
		PointsAwarded: points,
		CreatedAt:     s.clock.Now().UTC(),
	}

	var balance int64
	err = s.call(ctx, func(ctx context.Context) error {
		var err error
		balance, err = s.repo.RecordClaim(ctx, claim)
		return err
	})
	if err != nil {
		return nil, err
	}

	return &model.ClaimResult{
		PointsAwarded: points,
		Balance:       balance,
	}, nil
}
