package shared

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	KindIO         ErrorKind = "io_error"
	KindFraming    ErrorKind = "framing_error"
	KindDecode     ErrorKind = "decode_error"
	KindModel      ErrorKind = "model_error"
	KindValidation ErrorKind = "validation_error"
)

// InferError is returned by every stage of a session. Kind drives metrics and
// logging, StatusCode is only used by the text variant when the error ends the
// request before a prediction document can be produced.
//
// The Err message is what the peer sees in error_message, so wrap extra
// context around an InferError instead of inside it when the detail should
// only reach the logs.
type InferError struct {
	Kind       ErrorKind
	StatusCode int
	Err        error
}

func (e *InferError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *InferError) Unwrap() error {
	return e.Err
}

// Message is the peer facing text, without the kind prefix.
func (e *InferError) Message() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return e.Err.Error()
}

func IOError(err error) *InferError {
	return &InferError{Kind: KindIO, StatusCode: 408, Err: err}
}

func FramingError(err error) *InferError {
	return &InferError{Kind: KindFraming, StatusCode: 400, Err: err}
}

func DecodeError(err error) *InferError {
	return &InferError{Kind: KindDecode, StatusCode: 200, Err: err}
}

func ModelError(err error) *InferError {
	return &InferError{Kind: KindModel, StatusCode: 200, Err: err}
}

func ValidationError(err error) *InferError {
	return &InferError{Kind: KindValidation, StatusCode: 200, Err: err}
}

var (
	ErrBodyTooLarge     = &InferError{Kind: KindFraming, StatusCode: 413, Err: errors.New("declared content length exceeds limit")}
	ErrMalformedRequest = &InferError{Kind: KindFraming, StatusCode: 400, Err: errors.New("malformed request headers")}
	ErrPayloadTooLarge  = &InferError{Kind: KindFraming, StatusCode: 413, Err: errors.New("payload exceeds limit")}
	ErrHeaderTooLarge   = &InferError{Kind: KindFraming, StatusCode: 431, Err: errors.New("request headers too large")}
	ErrEmptyPayload     = &InferError{Kind: KindDecode, StatusCode: 200, Err: errors.New("empty payload")}
	ErrReadTimeout      = &InferError{Kind: KindIO, StatusCode: 408, Err: errors.New("read timeout")}
	ErrIncompleteBody   = &InferError{Kind: KindIO, StatusCode: 400, Err: errors.New("connection closed before body was complete")}

	ErrModelNotInitialized = &InferError{Kind: KindModel, StatusCode: 503, Err: errors.New("model not initialized")}
	ErrInferenceFailed     = &InferError{Kind: KindModel, StatusCode: 200, Err: errors.New("inference execution failed")}
)

// KindOf returns the kind carried by err, or KindIO for foreign errors since
// anything unclassified came from the transport.
func KindOf(err error) ErrorKind {
	var ierr *InferError
	if errors.As(err, &ierr) {
		return ierr.Kind
	}
	return KindIO
}

// PublicMessage returns the text placed in error_message for err.
func PublicMessage(err error) string {
	var ierr *InferError
	if errors.As(err, &ierr) {
		return ierr.Message()
	}
	return "internal error"
}
