// Package clock вычисляет границы временных окон лидербордов.
//
// Все функции окна чистые: текущий момент передаётся аргументом,
// поэтому системные часы читает только реализация Clock.
package clock

import (
	"fmt"
	"strings"
	"time"

	"github.com/mmeshcher/claimboard/internal/model"
)

// DefaultDailyOffset сдвигает границу суток с полуночи UTC на полночь IST.
const DefaultDailyOffset = 5*time.Hour + 30*time.Minute

const lastMillisecond = 999 * time.Millisecond

// Clock возвращает текущий момент времени.
type Clock interface {
	Now() time.Time
}

// System читает системные часы в UTC.
type System struct{}

// Now возвращает текущее время в UTC.
func (System) Now() time.Time { return time.Now().UTC() }

// Fixed всегда возвращает один и тот же момент.
type Fixed time.Time

// Now возвращает зафиксированный момент.
func (f Fixed) Now() time.Time { return time.Time(f) }

// Calendar хранит настраиваемые параметры вычисления окон.
type Calendar struct {
	// DailyOffset прибавляется к полуночи UTC при расчёте начала суток.
	DailyOffset time.Duration
	// UniformBounds делает верхнюю границу суточного окна включительной,
	// как у недельного и месячного.
	UniformBounds bool
}

// Default возвращает календарь со смещением IST и исходной асимметрией границ.
func Default() Calendar {
	return Calendar{DailyOffset: DefaultDailyOffset}
}

// Today возвращает суточное окно, содержащее now.
func (c Calendar) Today(now time.Time) model.TimeWindow {
	start := startOfDay(now).Add(c.DailyOffset)
	return model.TimeWindow{
		Kind:         model.WindowDaily,
		Start:        start,
		End:          start.Add(24*time.Hour - time.Millisecond),
		EndInclusive: c.UniformBounds,
	}
}

// ThisWeek возвращает окно от понедельника текущей недели до конца дня now.
func (c Calendar) ThisWeek(now time.Time) model.TimeWindow {
	day := startOfDay(now)
	back := (int(day.Weekday()) + 6) % 7
	return model.TimeWindow{
		Kind:         model.WindowWeekly,
		Start:        day.AddDate(0, 0, -back),
		End:          day.Add(23*time.Hour + 59*time.Minute + 59*time.Second + lastMillisecond),
		EndInclusive: true,
	}
}

// ThisMonth возвращает окно календарного месяца, содержащего now.
func (c Calendar) ThisMonth(now time.Time) model.TimeWindow {
	now = now.UTC()
	return model.TimeWindow{
		Kind:         model.WindowMonthly,
		Start:        time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC),
		End:          time.Date(now.Year(), now.Month()+1, 0, 23, 59, 59, int(lastMillisecond), time.UTC),
		EndInclusive: true,
	}
}

// Window выбирает окно по его типу.
func (c Calendar) Window(kind model.WindowKind, now time.Time) (model.TimeWindow, error) {
	switch kind {
	case model.WindowDaily:
		return c.Today(now), nil
	case model.WindowWeekly:
		return c.ThisWeek(now), nil
	case model.WindowMonthly:
		return c.ThisMonth(now), nil
	default:
		return model.TimeWindow{}, fmt.Errorf("unknown window kind %q", kind)
	}
}

// TodayWindow вычисляет суточное окно календаря по умолчанию.
func TodayWindow(now time.Time) model.TimeWindow { return Default().Today(now) }

// ThisWeekWindow вычисляет недельное окно календаря по умолчанию.
func ThisWeekWindow(now time.Time) model.TimeWindow { return Default().ThisWeek(now) }

// ThisMonthWindow вычисляет месячное окно календаря по умолчанию.
func ThisMonthWindow(now time.Time) model.TimeWindow { return Default().ThisMonth(now) }

// ParseKind разбирает название окна из запроса.
func ParseKind(s string) (model.WindowKind, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "daily", "today", "day":
		return model.WindowDaily, true
	case "weekly", "week":
		return model.WindowWeekly, true
	case "monthly", "month":
		return model.WindowMonthly, true
	default:
		return "", false
	}
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
