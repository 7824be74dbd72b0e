package qdrant

import "fmt"

type ErrorCode string

const (
	ErrorCodeConfig       ErrorCode = "config"
	ErrorCodeHTTPCall     ErrorCode = "http_call"
	ErrorCodeHTTPStatus   ErrorCode = "http_status"
	ErrorCodeDecode       ErrorCode = "decode"
	ErrorCodeUpstream     ErrorCode = "upstream_status"
	ErrorCodeDimMismatch  ErrorCode = "dimension_mismatch"
	ErrorCodeEmptyPayload ErrorCode = "empty_payload"
)

type OperationError struct {
	Code ErrorCode
	Op   string
	Err  error
}

func (e *OperationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("qdrant %s (%s): %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("qdrant %s (%s)", e.Op, e.Code)
}

func (e *OperationError) Unwrap() error { return e.Err }

func opErr(code ErrorCode, op string, err error) *OperationError {
	return &OperationError{Code: code, Op: op, Err: err}
}
