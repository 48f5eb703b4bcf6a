package billing

import (
	"github.com/shopspring/decimal"
)

// minTolerance 金额比对的最小容差（分位四舍五入误差）
var minTolerance = decimal.NewFromFloat(0.01)

// tolerancePercent 相对容差 1%
var tolerancePercent = decimal.NewFromFloat(0.01)

// ValidatePaymentAmount 校验渠道实付金额与本地应付金额是否一致
// 容差取 max(0.01, 应付金额的 1%)，防止少付欺诈，同时容忍渠道的分位舍入
func ValidatePaymentAmount(expected, paid decimal.Decimal) bool {
	tolerance := expected.Mul(tolerancePercent)
	if tolerance.LessThan(minTolerance) {
		tolerance = minTolerance
	}
	diff := expected.Sub(paid).Abs()
	return diff.LessThanOrEqual(tolerance)
}
