package utils

import (
	"time"
)

// time.go - границы периодов для статистики сделок и конвертация
// биржевых timestamp (миллисекунды Unix).

// TimeRange - временной диапазон [Start, End]
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// Contains проверяет, попадает ли время в диапазон (границы включительно)
func (tr TimeRange) Contains(t time.Time) bool {
	return !t.Before(tr.Start) && !t.After(tr.End)
}

// Days возвращает длину диапазона в днях, минимум 1
func (tr TimeRange) Days() int {
	days := int(tr.End.Sub(tr.Start).Hours() / 24)
	if days < 1 {
		return 1
	}
	return days
}

// PeriodType - период агрегации статистики
type PeriodType string

const (
	PeriodDay   PeriodType = "day"
	PeriodWeek  PeriodType = "week"
	PeriodMonth PeriodType = "month"
	PeriodYear  PeriodType = "year"
	PeriodAll   PeriodType = "all"
)

// ParsePeriod разбирает строку периода; неизвестное значение = PeriodAll
func ParsePeriod(s string) PeriodType {
	switch PeriodType(s) {
	case PeriodDay, PeriodWeek, PeriodMonth, PeriodYear:
		return PeriodType(s)
	default:
		return PeriodAll
	}
}

// PeriodRangeAt возвращает диапазон периода, заканчивающегося в now.
//
// День/неделя/месяц/год считаются скользящими окнами (24h, 7d, 30d, 365d),
// PeriodAll начинается с нулевого времени.
func PeriodRangeAt(period PeriodType, now time.Time) TimeRange {
	now = now.UTC()
	switch period {
	case PeriodDay:
		return TimeRange{Start: now.AddDate(0, 0, -1), End: now}
	case PeriodWeek:
		return TimeRange{Start: now.AddDate(0, 0, -7), End: now}
	case PeriodMonth:
		return TimeRange{Start: now.AddDate(0, 0, -30), End: now}
	case PeriodYear:
		return TimeRange{Start: now.AddDate(-1, 0, 0), End: now}
	default:
		return TimeRange{Start: time.Time{}, End: now}
	}
}

// GetDayStartFrom возвращает начало дня (00:00:00 UTC)
func GetDayStartFrom(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// FromUnixMillis конвертирует миллисекунды Unix (формат биржи) в time.Time UTC
func FromUnixMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// ToUnixMillis конвертирует время в миллисекунды Unix
func ToUnixMillis(t time.Time) int64 {
	return t.UnixMilli()
}
