package identity

import "errors"

// Error kinds, matched with errors.Is. The api maps them to status codes.
var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")

	// ErrInvalidCredentials is the one failure for unknown identifiers and
	// wrong secrets. It is returned bare so both paths read the same.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Error is a principal operation failure. Field names the logical field at
// fault ("email", "username", "role", "principal") when there is one. Detail
// never carries secrets.
type Error struct {
	Op     string
	Kind   error
	Field  string
	Detail string
}

func (e *Error) Error() string {
	msg := e.Op + ": " + e.Kind.Error()
	if e.Field != "" {
		msg += " (" + e.Field + ")"
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Kind }

func invalid(op, field, detail string) error {
	return &Error{Op: op, Kind: ErrInvalidInput, Field: field, Detail: detail}
}

func conflict(op, field string) error {
	return &Error{Op: op, Kind: ErrConflict, Field: field}
}

func notFound(op string) error {
	return &Error{Op: op, Kind: ErrNotFound, Field: "principal"}
}

// ConflictField returns which unique field a conflict error is about, or "".
func ConflictField(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Kind == ErrConflict {
		return e.Field
	}
	return ""
}

func IsConflict(err error) bool           { return errors.Is(err, ErrConflict) }
func IsNotFound(err error) bool           { return errors.Is(err, ErrNotFound) }
func IsInvalidInput(err error) bool       { return errors.Is(err, ErrInvalidInput) }
func IsInvalidCredentials(err error) bool { return errors.Is(err, ErrInvalidCredentials) }
