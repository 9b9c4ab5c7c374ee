package negotiation

import (
	"errors"
	"fmt"
)

// ErrorCode коды ошибок согласования
type ErrorCode int

const (
	ErrorCodeInvalidConfig ErrorCode = iota + 2000
	ErrorCodeGeneration
	ErrorCodeParsing
	ErrorCodeMediaNotFound
	ErrorCodeIncompatibleCodec
	ErrorCodeInvalidDirection
	ErrorCodeInvalidExtension
)

// Error ошибка разбора или построения SDP
type Error struct {
	Code    ErrorCode
	Message string
	Wrapped error
}

func newError(code ErrorCode, format string, args ...interface{}) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

func wrapError(code ErrorCode, err error, format string, args ...interface{}) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Wrapped: err,
	}
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("SDP [%d]: %s", e.Code, e.Message)
	if e.Wrapped != nil {
		msg += ": " + e.Wrapped.Error()
	}
	return msg
}

// Unwrap возвращает обернутую ошибку для errors.Is/As
func (e *Error) Unwrap() error {
	return e.Wrapped
}

// IsError проверяет, что err является ошибкой согласования с кодом code
func IsError(err error, code ErrorCode) bool {
	var negErr *Error
	if !errors.As(err, &negErr) {
		return false
	}
	return negErr.Code == code
}
