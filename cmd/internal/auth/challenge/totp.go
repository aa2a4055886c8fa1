// Package challenge verifies step-up proofs presented on refresh.
package challenge

import (
	"errors"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// ErrNotEnrolled is returned when a principal has no TOTP secret.
var ErrNotEnrolled = errors.New("totp not enrolled")

// TOTP validates RFC 6238 codes (30s period, 6 digits, SHA1, ±1 step).
type TOTP struct {
	issuer string
	opts   totp.ValidateOpts
}

func NewTOTP(issuer string) *TOTP {
	return &TOTP{
		issuer: issuer,
		opts: totp.ValidateOpts{
			Period:    30,
			Skew:      1,
			Digits:    otp.DigitsSix,
			Algorithm: otp.AlgorithmSHA1,
		},
	}
}

// Enrollment is a freshly generated secret and its provisioning URL.
type Enrollment struct {
	Secret string
	URL    string
}

// Enroll generates a new secret for accountName.
func (t *TOTP) Enroll(accountName string) (Enrollment, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      t.issuer,
		AccountName: accountName,
		Period:      t.opts.Period,
		Digits:      t.opts.Digits,
		Algorithm:   t.opts.Algorithm,
	})
	if err != nil {
		return Enrollment{}, err
	}
	return Enrollment{Secret: key.Secret(), URL: key.URL()}, nil
}

// Verify reports whether code is valid for secret at now.
func (t *TOTP) Verify(secret, code string, now time.Time) (bool, error) {
	if strings.TrimSpace(secret) == "" {
		return false, ErrNotEnrolled
	}
	code = strings.TrimSpace(code)
	if len(code) != t.opts.Digits.Length() {
		return false, nil
	}
	ok, err := totp.ValidateCustom(code, secret, now, t.opts)
	if err != nil {
		// Malformed codes and secrets are plain failures for the caller.
		return false, nil
	}
	return ok, nil
}

// Code returns the current code for secret. Used by the admin CLI and tests.
func (t *TOTP) Code(secret string, now time.Time) (string, error) {
	return totp.GenerateCodeCustom(secret, now, t.opts)
}
