package errors

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	CodeConfig         ErrorCode = "CONFIG_ERROR"
	CodeTierFailed     ErrorCode = "TIER_FAILED"
	CodeAllTiersFailed ErrorCode = "ALL_TIERS_FAILED"
	CodeTimeout        ErrorCode = "TIMEOUT"
	CodeWorkerCrash    ErrorCode = "WORKER_CRASH"
	CodeSerialization  ErrorCode = "SERIALIZATION_ERROR"
	CodeCancelled      ErrorCode = "CANCELLED"
	CodeCollect        ErrorCode = "COLLECT_ERROR"
	CodeSpool          ErrorCode = "SPOOL_ERROR"
	CodeAPI            ErrorCode = "API_ERROR"
	CodeInternal       ErrorCode = "INTERNAL_ERROR"
)

type DomainError struct {
	Code    ErrorCode
	Message string
	Err     error
	Context map[string]interface{}
}

const (
	CtxPath     = "path"
	CtxLanguage = "language"
	CtxTier     = "tier"
	CtxWorker   = "worker"
	CtxRun      = "run"
)

func (e *DomainError) WithContext(key string, value interface{}) *DomainError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

func (e *DomainError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if len(e.Context) > 0 {
		msg += fmt.Sprintf(" %v", e.Context)
	}
	return msg
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

func New(code ErrorCode, msg string) error {
	return &DomainError{Code: code, Message: msg}
}

func Wrap(err error, code ErrorCode, msg string) error {
	return &DomainError{Code: code, Message: msg, Err: err}
}

func AddContext(err error, key string, value interface{}) error {
	var de *DomainError
	if errors.As(err, &de) {
		de.WithContext(key, value)
		return de
	}
	return &DomainError{
		Code:    CodeInternal,
		Message: "wrapped error",
		Err:     err,
		Context: map[string]interface{}{key: value},
	}
}

func IsCode(err error, code ErrorCode) bool {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// TierFailure builds the failure class a parser tier returns for input it
// cannot handle. The cascade controller recovers exactly this class by
// recording an error-bearing result and moving on; any other error from a
// tier is treated as a defect and aborts the cascade.
func TierFailure(tier string, msg string, cause error) error {
	e := &DomainError{Code: CodeTierFailed, Message: msg, Err: cause}
	return e.WithContext(CtxTier, tier)
}

func IsTierFailure(err error) bool {
	return IsCode(err, CodeTierFailed)
}
