package contract

import "errors"

// 领域错误分类（调用方以 errors.Is 判定）。
var (
	// ErrConfiguration: 运行参数非法（种子缺失、horizontal<1、凭据缺失等），在任何合成调用前报告。
	ErrConfiguration = errors.New("configuration error")
	// ErrInvalidGeometry: 三等分退化（尺寸 <3 时两条分割线重合）。
	ErrInvalidGeometry = errors.New("invalid geometry")
	// ErrInsufficientGuidance: 中心列迭代数超过可用的对角引导瓦片数。
	ErrInsufficientGuidance = errors.New("insufficient guidance")
	// ErrSynthesisFailure: 远端合成失败、超时或无可用结果。
	ErrSynthesisFailure = errors.New("synthesis failure")
)

// 传输层/通用最小分类。
var (
	// ErrRateLimited: 上游限流（HTTP 429）。
	ErrRateLimited = errors.New("rate limited")
	// ErrResponseInvalid: 上游响应无法解析或缺少结果。
	ErrResponseInvalid = errors.New("response invalid")
	// ErrInvalidInput: 请求被上游判为非法（4xx）或本地编码失败。
	ErrInvalidInput = errors.New("invalid input")
	// ErrPathInvalid: 目标标识映射为无效/越界路径（例如绝对路径或 '..' 逃逸）。
	ErrPathInvalid = errors.New("path invalid")
	// ErrInvariantViolation: 领域不变量违例（通用哨兵）。
	ErrInvariantViolation = errors.New("invariant violation")
)
