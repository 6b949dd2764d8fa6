package templates

import "fmt"

// InvalidTemplate reports a parse failure with enough context for the caller
// to show a useful message: the line number and the offending fragment.
type InvalidTemplate struct {
	Message        string `json:"message"`
	Line           int    `json:"line,omitempty"`
	Source         string `json:"source,omitempty"`
	UnexpectedChar string `json:"unexpected_char,omitempty"`
}

func (e *InvalidTemplate) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("invalid template at line %d: %s", e.Line, e.Message)
	}
	return "invalid template: " + e.Message
}

func invalidf(line int, source, format string, args ...any) *InvalidTemplate {
	return &InvalidTemplate{Message: fmt.Sprintf(format, args...), Line: line, Source: source}
}
