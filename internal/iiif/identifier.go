package iiif

import (
	"net/url"
	"strconv"
	"strings"
)

// Identifier names a source image. Page is 0 unless the identifier carried
// an "@page" suffix, in which case it is 1-based.
type Identifier struct {
	Name string
	Page int
}

// ParseIdentifier URL-decodes s and splits off a trailing "@page".
func ParseIdentifier(s string) (Identifier, error) {
	name, err := url.PathUnescape(s)
	if err != nil {
		return Identifier{}, newParseError("identifier", s, "invalid escape")
	}
	if name == "" {
		return Identifier{}, newParseError("identifier", s, "empty identifier")
	}
	if i := strings.LastIndexByte(name, '@'); i > 0 {
		if page, err := strconv.Atoi(name[i+1:]); err == nil {
			if page < 1 {
				return Identifier{}, newParseError("identifier", s, "page numbers start at 1")
			}
			return Identifier{Name: name[:i], Page: page}, nil
		}
	}
	return Identifier{Name: name}, nil
}

// String renders the identifier in path-escaped form with its page suffix.
func (id Identifier) String() string {
	s := url.PathEscape(id.Name)
	if id.Page > 0 {
		s += "@" + strconv.Itoa(id.Page)
	}
	return s
}
