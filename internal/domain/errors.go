package domain

import "fmt"

// ErrorKind is the closed taxonomy every surface maps from. The string values
// are wire-visible in error envelopes and tool results.
type ErrorKind string

const (
	KindEmptyContent        ErrorKind = "EmptyContent"
	KindSecretDetected      ErrorKind = "SecretDetected"
	KindInvalidField        ErrorKind = "InvalidField"
	KindNotFound            ErrorKind = "NotFound"
	KindDuplicateID         ErrorKind = "DuplicateId"
	KindEmbedderUnavailable ErrorKind = "EmbedderUnavailable"
	KindStoreUnavailable    ErrorKind = "StoreUnavailable"
	KindCanceled            ErrorKind = "Canceled"
	KindSchemaMismatch      ErrorKind = "SchemaMismatch"
	KindInternal            ErrorKind = "Internal"
)

type Error struct {
	Kind    ErrorKind
	Message string
	Details map[string]any
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Is matches by kind so errors.Is works against the sentinels regardless of
// message or wrapping.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func NewError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = map[string]any{}
	}
	e.Details[key] = value
	return e
}

var (
	ErrEmptyContent        = &Error{Kind: KindEmptyContent, Message: "content is empty"}
	ErrSecretDetected      = &Error{Kind: KindSecretDetected, Message: "secret detected"}
	ErrInvalidField        = &Error{Kind: KindInvalidField, Message: "invalid field"}
	ErrNotFound            = &Error{Kind: KindNotFound, Message: "not found"}
	ErrDuplicateID         = &Error{Kind: KindDuplicateID, Message: "duplicate id"}
	ErrEmbedderUnavailable = &Error{Kind: KindEmbedderUnavailable, Message: "embedder unavailable"}
	ErrStoreUnavailable    = &Error{Kind: KindStoreUnavailable, Message: "store unavailable"}
	ErrCanceled            = &Error{Kind: KindCanceled, Message: "operation canceled"}
	ErrSchemaMismatch      = &Error{Kind: KindSchemaMismatch, Message: "schema version mismatch"}
	ErrInternal            = &Error{Kind: KindInternal, Message: "internal error"}
)

type WarningKind string

const (
	WarningDegradedEmbedding WarningKind = "DegradedEmbedding"
	WarningSecretMasked      WarningKind = "SecretMasked"
)

// Warning rides along on successful responses; it never changes a status.
type Warning struct {
	Kind    WarningKind `json:"kind"`
	Message string      `json:"message"`
}
