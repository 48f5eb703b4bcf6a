package billing

import (
	"time"
)

// ============================================================================
// 账单日历计算
// ============================================================================
//
// 账单日按"锚定日"计算：用户在 1 月 31 日付费，锚定日就是 31。
// 目标月不足 31 天时收敛到月末（1 月 31 日 +1 月 = 2 月 29 日），
// 但锚定日本身不变，下一个足够长的月份会弹回 31 号（3 月 31 日）。
// 因此调用方必须始终传原始锚定日，而不是上一次收敛后的日期。

// ClampAnchorDay 锚定日收敛到合法区间 [1, 31]
func ClampAnchorDay(day int) int {
	if day < 1 {
		return 1
	}
	if day > 31 {
		return 31
	}
	return day
}

// daysInMonth 指定年月的天数
func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// AddCalendarMonths 以锚定日为基准加自然月
// 目标月的日期取 min(anchorDay, 目标月天数)，时分秒沿用 base
func AddCalendarMonths(base time.Time, months int, anchorDay int) time.Time {
	anchorDay = ClampAnchorDay(anchorDay)

	// 先归一化到目标月第一天，避免 AddDate 的日期溢出进位
	totalMonths := int(base.Month()) - 1 + months
	year := base.Year() + totalMonths/12
	month := time.Month(totalMonths%12 + 1)

	day := anchorDay
	if max := daysInMonth(year, month); day > max {
		day = max
	}

	return time.Date(year, month, day,
		base.Hour(), base.Minute(), base.Second(), base.Nanosecond(), base.Location())
}

// NextBillingDate 严格晚于 current 的下一个账单日
func NextBillingDate(current time.Time, anchorDay int) time.Time {
	candidate := AddCalendarMonths(current, 0, anchorDay)
	if candidate.After(current) {
		return candidate
	}
	return AddCalendarMonths(current, 1, anchorDay)
}

// ResetCheck 额度重置判定结果
type ResetCheck struct {
	Due        bool
	NextAnchor time.Time
}

// IsResetDue 判定从上次重置到现在是否跨过了至少一个账单日
// lastResetISO 缺失或无法解析视为首次初始化，直接判定需要重置。
// 逐月迭代而不是按天数折算，因为每月长度不同
func IsResetDue(lastResetISO string, anchorDay int, now time.Time) ResetCheck {
	last, err := time.Parse(time.RFC3339, lastResetISO)
	if lastResetISO == "" || err != nil {
		return ResetCheck{
			Due:        true,
			NextAnchor: NextBillingDate(now, anchorDay),
		}
	}

	boundary := NextBillingDate(last, anchorDay)
	due := !boundary.After(now)
	for !boundary.After(now) {
		boundary = NextBillingDate(boundary, anchorDay)
	}

	return ResetCheck{Due: due, NextAnchor: boundary}
}
