package middleware

import (
	"errors"
	"strings"
	"unicode/utf8"
)

// MaxQuestionLength bounds a question in bytes.
const MaxQuestionLength = 4000

// ValidateQuestion validates a submitted question.
func ValidateQuestion(question string) error {
	if strings.TrimSpace(question) == "" {
		return errors.New("question is required")
	}
	if len(question) > MaxQuestionLength {
		return errors.New("question exceeds maximum length")
	}
	if !utf8.ValidString(question) {
		return errors.New("question must be valid UTF-8")
	}
	return nil
}
