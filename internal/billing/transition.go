package billing

import (
	"time"

	"webtoapp/internal/model"
)

// ============================================================================
// 套餐变更判定
// ============================================================================

const (
	TransitionNew       = "new"       // 新购或过期后重新购买
	TransitionRenewal   = "renewal"   // 同套餐续费（在有效期内）
	TransitionUpgrade   = "upgrade"   // 升级（折算天数由上游改价计算器写入 metadata）
	TransitionDowngrade = "downgrade" // 降级（到期后才生效，只排队不立即变更）
)

// CurrentState 用户当前的订阅状态
type CurrentState struct {
	Plan      string
	ExpiresAt *time.Time
	AnchorDay int // 现有账单锚定日
}

// Purchase 本次购买的内容
type Purchase struct {
	Plan     string
	Period   string
	Metadata *model.PaymentMetadata
}

// Transition 变更判定结果
type Transition struct {
	Kind       string
	StartedAt  time.Time
	ExpiresAt  time.Time // 降级时保持当前到期时间不变
	AnchorDay  int       // 本次生效后的账单锚定日
	ForceReset bool      // 是否立即重置每日用量
	// 降级时写入排队记录，钱包套餐保持不动
	PendingDowngrade *model.PendingDowngrade
}

// Classify 判定购买相对当前订阅是新购、续费、升级还是降级，并计算新的到期时间
//
// 判定规则：
//   - 升级：购买套餐等级更高，且当前订阅有效、非免费
//   - 降级：购买套餐等级更低，且当前订阅有效
//   - 续费：同套餐且当前有效，从当前到期时间起延长（不是从现在）
//   - 其余：按新购处理，从现在起算，锚定日重置为购买日
func Classify(current CurrentState, purchased Purchase, now time.Time) Transition {
	currentRank := PlanRank(current.Plan)
	purchasedRank := PlanRank(purchased.Plan)
	currentActive := current.ExpiresAt != nil && current.ExpiresAt.After(now)

	isUpgrade := purchasedRank > currentRank && currentActive && currentRank > 0
	isDowngrade := purchasedRank < currentRank && currentActive
	isSameActive := purchasedRank == currentRank && currentActive

	months := model.PeriodMonths(purchased.Period)
	anchorDay := ClampAnchorDay(current.AnchorDay)

	switch {
	case isUpgrade:
		t := Transition{
			Kind:       TransitionUpgrade,
			StartedAt:  now,
			AnchorDay:  anchorDay,
			ForceReset: true,
		}
		// 上游把旧套餐剩余价值折算成了天数，直接按天数顺延
		if purchased.Metadata != nil && purchased.Metadata.IsUpgrade && purchased.Metadata.Days > 0 {
			t.ExpiresAt = now.AddDate(0, 0, purchased.Metadata.Days)
		} else {
			t.ExpiresAt = AddCalendarMonths(now, months, anchorDay)
		}
		return t

	case isDowngrade:
		// 降级绝不立即生效：当前（高）套餐保留到付费周期结束，
		// 排队记录由读路径或定时任务在生效日之后应用
		effectiveAt := *current.ExpiresAt
		return Transition{
			Kind:       TransitionDowngrade,
			StartedAt:  effectiveAt,
			ExpiresAt:  effectiveAt,
			AnchorDay:  anchorDay,
			ForceReset: false,
			PendingDowngrade: &model.PendingDowngrade{
				TargetPlan:  purchased.Plan,
				Period:      purchased.Period,
				EffectiveAt: effectiveAt,
				ExpiresAt:   AddCalendarMonths(effectiveAt, months, anchorDay),
			},
		}

	case isSameActive:
		// 有效期内续费：从当前到期时间起延长，用户不损失剩余时间
		return Transition{
			Kind:       TransitionRenewal,
			StartedAt:  *current.ExpiresAt,
			ExpiresAt:  AddCalendarMonths(*current.ExpiresAt, months, anchorDay),
			AnchorDay:  anchorDay,
			ForceReset: false,
		}

	default:
		// 新购或过期重购：从现在起算，购买日成为新的锚定日
		newAnchor := ClampAnchorDay(now.Day())
		return Transition{
			Kind:       TransitionNew,
			StartedAt:  now,
			ExpiresAt:  AddCalendarMonths(now, months, newAnchor),
			AnchorDay:  newAnchor,
			ForceReset: true,
		}
	}
}
