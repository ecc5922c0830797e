package iiif

import "fmt"

// ParseError reports a request parameter that does not follow the IIIF grammar
// or cannot be satisfied for the addressed image.
type ParseError struct {
	Param  string
	Value  string
	Reason string
}

func (e *ParseError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("iiif %s: %s", e.Param, e.Reason)
	}
	return fmt.Sprintf("iiif %s %q: %s", e.Param, e.Value, e.Reason)
}

func newParseError(param, value, reason string) error {
	return &ParseError{Param: param, Value: value, Reason: reason}
}
