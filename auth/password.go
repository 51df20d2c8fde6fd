package auth

import (
	"errors"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrPasswordTooShort  = errors.New("passwords must be at least 8 characters")
	ErrPasswordTooSimple = errors.New("passwords must contain upper case, lower case, a digit, and punctuation")
)

// CheckPasswordPolicy validates a candidate password against the default
// policy: length at least 8 with at least one upper case letter, one lower
// case letter, one digit, and one punctuation or symbol character.
func CheckPasswordPolicy(password string) error {
	if len(password) < 8 {
		return ErrPasswordTooShort
	}

	var upper, lower, digit, punct bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			punct = true
		}
	}

	if !upper || !lower || !digit || !punct {
		return ErrPasswordTooSimple
	}

	return nil
}

// HashPassword produces a salted adaptive hash of the plaintext.
func HashPassword(plain string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	return string(hashed), err
}

// VerifyPassword tests a plaintext against a stored hash.  The result is
// deterministic for a given pair.
func VerifyPassword(plain, stored string) bool {
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(plain)) == nil
}
