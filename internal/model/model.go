// Package model содержит доменные сущности сервиса начисления баллов и лидербордов.
package model

import (
	"time"

	"github.com/google/uuid"
)

// User представляет пользователя из справочника и его текущий баланс баллов.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	Points       int64     `json:"points"`
	PasswordHash []byte    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

// ClaimEvent описывает неизменяемый факт начисления баллов пользователю.
// Нулевой CreatedAt означает, что метка времени в хранилище повреждена.
type ClaimEvent struct {
	ID            uuid.UUID
	UserID        int64
	Username      string
	PointsAwarded int64
	CreatedAt     time.Time
}

// ClaimResult возвращается после успешного начисления.
type ClaimResult struct {
	PointsAwarded int64 `json:"pointsAwarded"`
	Balance       int64 `json:"balance"`
}

// WindowKind задаёт тип временного окна лидерборда.
type WindowKind string

const (
	WindowDaily   WindowKind = "daily"
	WindowWeekly  WindowKind = "weekly"
	WindowMonthly WindowKind = "monthly"
)

// TimeWindow описывает интервал [Start, End] или [Start, End) в зависимости от EndInclusive.
type TimeWindow struct {
	Kind         WindowKind
	Start        time.Time
	End          time.Time
	EndInclusive bool
}

// Contains сообщает, попадает ли момент t в окно.
func (w TimeWindow) Contains(t time.Time) bool {
	if t.Before(w.Start) {
		return false
	}
	if w.EndInclusive {
		return !t.After(w.End)
	}
	return t.Before(w.End)
}

// AggregateRow содержит сумму баллов пользователя внутри окна.
type AggregateRow struct {
	Rank        int    `json:"rank"`
	Username    string `json:"username"`
	TotalPoints int64  `json:"totalPoints"`
}

// HistoryEntry — элемент истории начислений пользователя.
type HistoryEntry struct {
	PointsAwarded int64  `json:"pointsAwarded"`
	Date          string `json:"date"`
}

// BalanceDrift фиксирует расхождение баланса пользователя с суммой его начислений.
type BalanceDrift struct {
	UserID    int64
	Username  string
	Balance   int64
	LedgerSum int64
}
