package domain

import "time"

// NextOccurrence вычисляет следующее срабатывание расписания строго после now.
//
// Время суток всегда берётся из anchor, все вычисления ведутся в UTC.
// Ежедневный повтор отсчитывается от календарной даты now, а не от anchor.
// Второе значение false означает, что следующего срабатывания нет: неизвестный
// тип повтора или еженедельный повтор без дней.
func NextOccurrence(anchor time.Time, repeat RepeatType, days []Weekday, now time.Time) (time.Time, bool) {
	anchor = anchor.UTC()
	now = now.UTC()

	var next time.Time
	switch repeat {
	case RepeatDaily:
		next = atTimeOf(now.AddDate(0, 0, 1), anchor)
	case RepeatWeekly:
		offset, ok := weeklyOffset(now.Weekday(), days)
		if !ok {
			return time.Time{}, false
		}
		next = atTimeOf(now.AddDate(0, 0, offset), anchor)
	case RepeatMonthly:
		next = addMonthsClamped(now, anchor, 1)
	default:
		return time.Time{}, false
	}

	if !next.After(now) {
		switch repeat {
		case RepeatDaily:
			next = next.AddDate(0, 0, 1)
		case RepeatWeekly:
			next = next.AddDate(0, 0, 7)
		case RepeatMonthly:
			next = addMonthsClamped(next, anchor, 1)
		}
	}
	return next, true
}

// weeklyOffset ищет ближайший день из набора, начиная с завтрашнего.
func weeklyOffset(today time.Weekday, days []Weekday) (int, bool) {
	var set [7]bool
	found := false
	for _, d := range days {
		if wd, ok := d.Time(); ok {
			set[wd] = true
			found = true
		}
	}
	if !found {
		return 0, false
	}
	for offset := 1; offset <= 7; offset++ {
		if set[(int(today)+offset)%7] {
			return offset, true
		}
	}
	return 0, false
}

// addMonthsClamped сдвигает base на months месяцев и ставит день anchor,
// прижимая его к последнему дню целевого месяца (31 января -> 28/29 февраля).
func addMonthsClamped(base, anchor time.Time, months int) time.Time {
	first := time.Date(base.Year(), base.Month()+time.Month(months), 1, 0, 0, 0, 0, time.UTC)
	day := anchor.Day()
	if last := daysIn(first.Year(), first.Month()); day > last {
		day = last
	}
	return time.Date(first.Year(), first.Month(), day, anchor.Hour(), anchor.Minute(), anchor.Second(), anchor.Nanosecond(), time.UTC)
}

func atTimeOf(day, anchor time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), anchor.Hour(), anchor.Minute(), anchor.Second(), anchor.Nanosecond(), time.UTC)
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
