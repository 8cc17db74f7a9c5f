package runtime

import "fmt"

// MockMetadataError wraps a failed or fatally-null automock introspection
// (spec.md §7: "getMetadata returning null is fatal with a message naming
// the offending path").
type MockMetadataError struct {
	Path string
}

func (e *MockMetadataError) Error() string {
	return fmt.Sprintf("could not get mock metadata for module %q", e.Path)
}

// Code implements the errext-style code accessor.
func (e *MockMetadataError) Code() string { return "MOCK_METADATA_FAILED" }

// SyntaxError rewraps a transformer compile failure with diagnostic
// context: the offending file relative to a project root and, when known,
// the configured preprocessor name (spec.md §4.2.4).
type SyntaxError struct {
	File         string
	Preprocessor string
	Cause        error
}

func (e *SyntaxError) Error() string {
	if e.Preprocessor != "" {
		return fmt.Sprintf("%s: %s (while running preprocessor %q)", e.File, e.Cause, e.Preprocessor)
	}
	return fmt.Sprintf("%s: %s", e.File, e.Cause)
}

func (e *SyntaxError) Unwrap() error { return e.Cause }

// Code implements the errext-style code accessor.
func (e *SyntaxError) Code() string { return "SYNTAX_ERROR" }
