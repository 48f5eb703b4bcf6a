package service

import "errors"

var (
	// ErrPaymentNotFound 无匹配的支付记录，不可重试
	ErrPaymentNotFound = errors.New("支付记录不存在")
	// ErrAmountMismatch 渠道实付与应付不符，留给人工核查，绝不自动重试。
	// 记录保持未认领状态
	ErrAmountMismatch = errors.New("支付金额不符")
	// ErrInvalidStatusTransition 目标状态不在支付记录状态机的允许路径上
	ErrInvalidStatusTransition = errors.New("非法的支付状态流转")
)
