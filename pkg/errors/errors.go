// Package errors 提供统一的错误定义
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode 错误码类型
type ErrorCode string

// 预定义错误码
const (
	// 通用错误 (1xxx)
	CodeSuccess            ErrorCode = "0"
	CodeUnknown            ErrorCode = "1000"
	CodeInvalidParam       ErrorCode = "1001"
	CodeNotFound           ErrorCode = "1002"
	CodeConflict           ErrorCode = "1003"
	CodeTooManyRequests    ErrorCode = "1004"
	CodeInternalError      ErrorCode = "1005"
	CodeServiceUnavailable ErrorCode = "1006"

	// 准入与配额错误 (2xxx)
	CodeRateLimitExceeded   ErrorCode = "2001"
	CodeQuotaDailyExceeded  ErrorCode = "2002"
	CodeQuotaMonthExceeded  ErrorCode = "2003"
	CodeQuotaPerReqExceeded ErrorCode = "2004"

	// 诊断流程错误 (3xxx)
	CodeSessionNotFound     ErrorCode = "3001"
	CodeRunNotFound         ErrorCode = "3002"
	CodeUpstreamPrediction  ErrorCode = "3003"
	CodeMaxRetriesExceeded  ErrorCode = "3004"
	CodeNoFallbackAvailable ErrorCode = "3005"

	// 外部服务错误 (5xxx)
	CodeDatabaseError    ErrorCode = "5001"
	CodeCacheError       ErrorCode = "5002"
	CodeMessagingError   ErrorCode = "5003"
	CodeLLMProviderError ErrorCode = "5004"
)

// AppError 应用错误
type AppError struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	Detail     string    `json:"detail,omitempty"`
	HTTPStatus int       `json:"-"`
	Err        error     `json:"-"`
}

// Error 实现 error 接口
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 返回底层错误
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetail 添加详细信息
func (e *AppError) WithDetail(detail string) *AppError {
	e.Detail = detail
	return e
}

// WithError 添加底层错误
func (e *AppError) WithError(err error) *AppError {
	e.Err = err
	return e
}

// New 创建新的应用错误
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
	}
}

// Wrap 包装错误
func Wrap(err error, code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
		Err:        err,
	}
}

// codeToHTTPStatus 错误码转 HTTP 状态码
func codeToHTTPStatus(code ErrorCode) int {
	switch code {
	case CodeSuccess:
		return http.StatusOK
	case CodeInvalidParam:
		return http.StatusBadRequest
	case CodeNotFound, CodeSessionNotFound, CodeRunNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodeTooManyRequests, CodeRateLimitExceeded,
		CodeQuotaDailyExceeded, CodeQuotaMonthExceeded, CodeQuotaPerReqExceeded:
		return http.StatusTooManyRequests
	case CodeServiceUnavailable, CodeLLMProviderError:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// 预定义错误
var (
	ErrInvalidParam       = New(CodeInvalidParam, "invalid parameter")
	ErrNotFound           = New(CodeNotFound, "resource not found")
	ErrConflict           = New(CodeConflict, "resource conflict")
	ErrTooManyRequests    = New(CodeTooManyRequests, "too many requests")
	ErrInternalError      = New(CodeInternalError, "internal server error")
	ErrServiceUnavailable = New(CodeServiceUnavailable, "service unavailable")

	ErrSessionNotFound     = New(CodeSessionNotFound, "diagnosis session not found")
	ErrRunNotFound         = New(CodeRunNotFound, "diagnosis run not found")
	ErrUpstreamPrediction  = New(CodeUpstreamPrediction, "upstream prediction failed")
	ErrMaxRetriesExceeded  = New(CodeMaxRetriesExceeded, "prediction retries exhausted")
	ErrNoFallbackAvailable = New(CodeNoFallbackAvailable, "no fallback prediction available")
)

// RateLimitError 限流拒绝，附带重试提示
type RateLimitError struct {
	OperationClass string
	RetryAfterSec  int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded: class=%s retry_after=%ds", e.OperationClass, e.RetryAfterSec)
}

// QuotaLimitType 配额类型
type QuotaLimitType string

const (
	QuotaLimitDaily      QuotaLimitType = "daily"
	QuotaLimitMonthly    QuotaLimitType = "monthly"
	QuotaLimitPerRequest QuotaLimitType = "per_request"
)

// QuotaExceededError 配额拒绝
type QuotaExceededError struct {
	SubjectID string
	LimitType QuotaLimitType
	Current   int64
	Limit     int64
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("token quota exceeded: subject=%s type=%s used=%d max=%d",
		e.SubjectID, e.LimitType, e.Current, e.Limit)
}

// Code 返回配额类型对应的错误码
func (e *QuotaExceededError) Code() ErrorCode {
	switch e.LimitType {
	case QuotaLimitMonthly:
		return CodeQuotaMonthExceeded
	case QuotaLimitPerRequest:
		return CodeQuotaPerReqExceeded
	default:
		return CodeQuotaDailyExceeded
	}
}

// IsRateLimit 检查是否为限流错误
func IsRateLimit(err error) bool {
	var rle *RateLimitError
	return errors.As(err, &rle)
}

// IsQuotaExceeded 检查是否为配额错误
func IsQuotaExceeded(err error) bool {
	var qe *QuotaExceededError
	return errors.As(err, &qe)
}

// IsAppError 检查是否为 AppError
func IsAppError(err error) bool {
	var ae *AppError
	return errors.As(err, &ae)
}

// AsAppError 将错误转换为 AppError
func AsAppError(err error) *AppError {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae
	}
	return Wrap(err, CodeUnknown, "unknown error")
}
