package diag

import (
	"context"
	"errors"
	"net"
	"os"
	"time"

	"tilext/pkg/contract"
)

// Code 是最小错误分类代码。
// 仅用于日志/指标汇总，与退出码解耦。
type Code string

const (
	CodeUnknown   Code = "unknown"
	CodeConfig    Code = "config"
	CodeGeometry  Code = "geometry"
	CodeGuidance  Code = "guidance"
	CodeSynthesis Code = "synthesis"
	CodeNetwork   Code = "network"
	CodeProtocol  Code = "protocol"
	CodeInvariant Code = "invariant"
	CodeBudget    Code = "budget"
	CodeCancel    Code = "cancel"
	CodeIO        Code = "io"
)

// Classify 将错误归为最小分类。
// 说明：仅依赖哨兵错误与标准库错误类型，不做字符串匹配。
// 合成失败优先按其底层原因归类（限流/协议/网络），无可识别原因时归为 synthesis。
func Classify(err error) Code {
	if err == nil {
		return CodeUnknown
	}
	// 取消/超时优先
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return CodeCancel
	}
	switch {
	case errors.Is(err, contract.ErrConfiguration):
		return CodeConfig
	case errors.Is(err, contract.ErrInvalidGeometry):
		return CodeGeometry
	case errors.Is(err, contract.ErrInsufficientGuidance):
		return CodeGuidance
	case errors.Is(err, contract.ErrRateLimited):
		return CodeBudget
	case errors.Is(err, contract.ErrResponseInvalid):
		return CodeProtocol
	case errors.Is(err, contract.ErrInvariantViolation),
		errors.Is(err, contract.ErrInvalidInput),
		errors.Is(err, contract.ErrPathInvalid):
		return CodeInvariant
	}
	var perr *os.PathError
	if errors.As(err, &perr) {
		return CodeIO
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return CodeNetwork
	}
	if errors.Is(err, contract.ErrSynthesisFailure) {
		return CodeSynthesis
	}
	return CodeUnknown
}

// NowUTC 返回 RFC3339 UTC 时间字符串。
func NowUTC() string { return time.Now().UTC().Format(time.RFC3339) }
