package auth

import (
	"crypto/subtle"
	"errors"

	"golang.org/x/crypto/bcrypt"
)

var ErrAuthMismatch = errors.New("invalid login or password")

// Credentials is the single operator account configured at startup.
// PasswordHash, when set, is a bcrypt hash and takes precedence over Password.
type Credentials struct {
	Login        string
	Password     string
	PasswordHash string
}

// Verify checks both fields before deciding so a mismatch never reveals
// which one was wrong.
func (c Credentials) Verify(login, password string) error {
	loginOK := subtle.ConstantTimeCompare([]byte(login), []byte(c.Login)) == 1

	var passwordOK bool
	if c.PasswordHash != "" {
		passwordOK = bcrypt.CompareHashAndPassword([]byte(c.PasswordHash), []byte(password)) == nil
	} else {
		passwordOK = subtle.ConstantTimeCompare([]byte(password), []byte(c.Password)) == 1
	}

	if c.Login == "" || !loginOK || !passwordOK {
		return ErrAuthMismatch
	}
	return nil
}

func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
