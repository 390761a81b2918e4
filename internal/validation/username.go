// Package validation содержит проверки входных данных до обращения к хранилищу.
package validation

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ErrInvalid возвращается для некорректных входных данных.
var ErrInvalid = errors.New("validation error")

const maxUsernameLength = 64

// Username нормализует имя пользователя и проверяет его.
func Username(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if name == "" {
		return "", fmt.Errorf("%w: username is required", ErrInvalid)
	}
	if utf8.RuneCountInString(name) > maxUsernameLength {
		return "", fmt.Errorf("%w: username is longer than %d characters", ErrInvalid, maxUsernameLength)
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return "", fmt.Errorf("%w: username contains control characters", ErrInvalid)
		}
	}
	return name, nil
}

// Password проверяет, что пароль задан.
func Password(p string) error {
	if p == "" {
		return fmt.Errorf("%w: password is required", ErrInvalid)
	}
	return nil
}
