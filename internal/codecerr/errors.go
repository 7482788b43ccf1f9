// Package codecerr defines the error taxonomy shared by the range image
// codec: configuration problems, symbol range violations, encoder/decoder
// desynchronisation and corrupt containers.
//
// All types are returned as pointers and are matched with errors.As.
package codecerr

import "fmt"

// ConfigurationError reports an invalid sensor or codec setting. It is
// raised at setup time, before any frame is touched.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return "configuration error: " + e.Reason
	}
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

// Configf builds a ConfigurationError for field with a formatted reason.
func Configf(field, format string, args ...interface{}) *ConfigurationError {
	return &ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// SymbolRangeError reports a symbol outside [0, Bins-1]. Row and Col are -1
// when the pixel position is not known at the point of detection (for
// example inside the arithmetic coder, which only sees row indices).
type SymbolRangeError struct {
	Stage string
	Index int
	Row   int
	Col   int
	Value int64
	Bins  int
}

func (e *SymbolRangeError) Error() string {
	if e.Row < 0 {
		return fmt.Sprintf("%s: symbol %d at index %d outside [0, %d]", e.Stage, e.Value, e.Index, e.Bins-1)
	}
	return fmt.Sprintf("%s: symbol %d at pixel (%d, %d) outside [0, %d]", e.Stage, e.Value, e.Row, e.Col, e.Bins-1)
}

// CodecDesyncError reports that decode(encode(x)) != x. It indicates a
// PMF/CDF row ordering bug and is never recoverable at runtime.
type CodecDesyncError struct {
	Index int
	Want  int32
	Got   int32
}

func (e *CodecDesyncError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("codec desync: decoded %d symbols, want %d", e.Got, e.Want)
	}
	return fmt.Sprintf("codec desync at symbol %d: decoded %d, want %d", e.Index, e.Got, e.Want)
}

// CorruptContainerError reports a bitstream container that cannot be split
// into its named blobs.
type CorruptContainerError struct {
	Field  string
	Reason string
}

func (e *CorruptContainerError) Error() string {
	return fmt.Sprintf("corrupt container: field %q: %s", e.Field, e.Reason)
}
