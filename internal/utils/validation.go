package utils

import (
	"regexp"
	"strings"
)

var (
	idPattern        = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	sortFieldPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)
)

// 错误定义
var (
	ErrEmptyID          = &ValidationError{Code: "EMPTY_ID", Message: "id cannot be empty"}
	ErrInvalidIDFormat  = &ValidationError{Code: "INVALID_ID_FORMAT", Message: "id contains invalid characters"}
	ErrIDTooLong        = &ValidationError{Code: "ID_TOO_LONG", Message: "id exceeds maximum length"}
	ErrInvalidSortField = &ValidationError{Code: "INVALID_SORT_FIELD", Message: "sort field must be a lowercase column name"}
	ErrInvalidSortOrder = &ValidationError{Code: "INVALID_SORT_ORDER", Message: "sort order must be asc or desc"}
)

// ValidationError 验证错误
type ValidationError struct {
	Code    string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// ValidateTaskID 验证任务、实例 ID 格式,最长 64 字符
func ValidateTaskID(id string) error {
	if id == "" {
		return ErrEmptyID
	}
	if !idPattern.MatchString(id) {
		return ErrInvalidIDFormat
	}
	if len(id) > 64 {
		return ErrIDTooLong
	}
	return nil
}

// ValidateSortField 排序字段只能是小写列名,最终列名由调用方白名单映射
func ValidateSortField(field string) error {
	if len(field) > 64 || !sortFieldPattern.MatchString(field) {
		return ErrInvalidSortField
	}
	return nil
}

// ValidateSortOrder 验证排序方向,不区分大小写
func ValidateSortOrder(order string) error {
	switch strings.ToLower(strings.TrimSpace(order)) {
	case "asc", "desc":
		return nil
	}
	return ErrInvalidSortOrder
}

// SanitizeSortOrder 规范化排序方向,非法值按 DESC 处理
func SanitizeSortOrder(order string) string {
	if strings.EqualFold(strings.TrimSpace(order), "asc") {
		return "ASC"
	}
	return "DESC"
}
