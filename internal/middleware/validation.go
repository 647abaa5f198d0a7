package middleware

import (
	"errors"
	"unicode/utf8"
)

const (
	maxPhoneLength = 32
	maxTextLength  = 4096
)

// ValidatePhone validates a raw counterpart identifier.
func ValidatePhone(phone string) error {
	if len(phone) > maxPhoneLength {
		return errors.New("phone exceeds maximum length")
	}
	if !utf8.ValidString(phone) {
		return errors.New("phone must be valid UTF-8")
	}
	return nil
}

// ValidateMessageText validates outgoing message text.
func ValidateMessageText(text string) error {
	if len(text) > maxTextLength {
		return errors.New("text exceeds maximum length")
	}
	if !utf8.ValidString(text) {
		return errors.New("text must be valid UTF-8")
	}
	return nil
}
