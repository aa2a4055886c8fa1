package password

import "errors"

// ErrPolicy matches every policy rejection returned by Validate.
var ErrPolicy = errors.New("password policy")

// ErrInvalidHash is returned for stored hashes that cannot be decoded or
// whose parameters fall outside the verification bounds.
var ErrInvalidHash = errors.New("invalid password hash")

type policyError string

func (e policyError) Error() string        { return string(e) }
func (e policyError) Is(target error) bool { return target == ErrPolicy }

// Policy rejections. Their messages are safe to show to the registering user.
const (
	ErrPasswordTooShort           = policyError("password too short")
	ErrPasswordTooLong            = policyError("password too long")
	ErrWeakPassword               = policyError("password too easy to guess")
	ErrPasswordContainsIdentifier = policyError("password must not contain the email or username")
)
