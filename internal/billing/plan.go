package billing

import (
	"github.com/shopspring/decimal"

	"webtoapp/internal/model"
)

const (
	PlanFree = "free"
	PlanPro  = "pro"
	PlanTeam = "team"
)

// planRanks 套餐等级，用于升降级判定（数值越大等级越高）
var planRanks = map[string]int{
	PlanFree: 0,
	PlanPro:  1,
	PlanTeam: 2,
}

// PlanRank 返回套餐等级，未知套餐按 free 处理
func PlanRank(plan string) int {
	return planRanks[plan]
}

func IsValidPlan(plan string) bool {
	_, ok := planRanks[plan]
	return ok
}

// PlanQuota 套餐额度配置
type PlanQuota struct {
	DailyBuildsLimit  int
	FileRetentionDays int
	BatchBuildEnabled bool
	MonthlyPrice      decimal.Decimal
}

var planQuotas = map[string]PlanQuota{
	PlanFree: {
		DailyBuildsLimit:  3,
		FileRetentionDays: 7,
		BatchBuildEnabled: false,
		MonthlyPrice:      decimal.Zero,
	},
	PlanPro: {
		DailyBuildsLimit:  30,
		FileRetentionDays: 30,
		BatchBuildEnabled: false,
		MonthlyPrice:      decimal.NewFromFloat(9.99),
	},
	PlanTeam: {
		DailyBuildsLimit:  200,
		FileRetentionDays: 90,
		BatchBuildEnabled: true,
		MonthlyPrice:      decimal.NewFromFloat(29.99),
	},
}

// QuotaFor 返回套餐额度，未知套餐回落到 free
func QuotaFor(plan string) PlanQuota {
	if q, ok := planQuotas[plan]; ok {
		return q
	}
	return planQuotas[PlanFree]
}

// annualDiscount 年付按 10 个月计价
var annualDiscount = decimal.NewFromInt(10)

// PriceFor 套餐周期定价
func PriceFor(plan, period string) decimal.Decimal {
	q := QuotaFor(plan)
	if period == model.PeriodAnnual {
		return q.MonthlyPrice.Mul(annualDiscount)
	}
	return q.MonthlyPrice
}
