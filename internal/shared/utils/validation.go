package utils

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/bytedance/sonic"
)

// Payload size limits (in bytes)
const (
	MaxSnippetSize  = 512 * 1024 // single visualization snippet
	MaxAnalysisSize = 64 * 1024  // analysis metadata JSON
)

// ValidateString validates a string field with length and content checks
func ValidateString(value, fieldName string, maxBytes int, required bool) error {
	if required && strings.TrimSpace(value) == "" {
		return fmt.Errorf("%s is required", fieldName)
	}
	if len(value) > maxBytes {
		return fmt.Errorf("%s must not exceed %d bytes", fieldName, maxBytes)
	}
	if !utf8.ValidString(value) {
		return fmt.Errorf("%s is not valid UTF-8", fieldName)
	}
	// Check for null bytes
	if strings.Contains(value, "\x00") {
		return fmt.Errorf("%s contains invalid characters", fieldName)
	}
	return nil
}

// ValidateSnippet validates snippet text before it enters the pipeline.
// Empty text is allowed; the pipeline treats it as a no-op render.
func ValidateSnippet(code string) error {
	return ValidateString(code, "code", MaxSnippetSize, false)
}

// ValidateAnalysis checks the analysis metadata size. Malformed JSON is
// accepted because metadata parsing falls back to defaults.
func ValidateAnalysis(analysis string) error {
	return ValidateString(analysis, "analysis", MaxAnalysisSize, false)
}

// ValidateJSON checks size and structure of a JSON document
func ValidateJSON(data []byte, maxSize int) error {
	if len(data) > maxSize {
		return fmt.Errorf("JSON size %d bytes exceeds maximum %d bytes", len(data), maxSize)
	}
	if !sonic.Valid(data) {
		return fmt.Errorf("invalid JSON")
	}
	return nil
}
