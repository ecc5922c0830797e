package preflight

import (
	"context"
	"fmt"
)

// Type is a permission decision.
type Type string

const (
	TypeAllow        Type = "allow"
	TypeLogin        Type = "login"
	TypeClickthrough Type = "clickthrough"
	TypeKiosk        Type = "kiosk"
	TypeExternal     Type = "external"
	TypeRestrict     Type = "restrict"
	TypeDeny         Type = "deny"
)

// IsAuthService reports whether the type is announced through an IIIF Auth
// service in the info document.
func (t Type) IsAuthService() bool {
	switch t {
	case TypeLogin, TypeClickthrough, TypeKiosk, TypeExternal:
		return true
	}
	return false
}

func (t Type) valid() bool {
	return t == TypeAllow || t == TypeRestrict || t == TypeDeny || t.IsAuthService()
}

// Result is the outcome of a preflight call. InFile is empty when the
// invoker leaves path resolution to the caller. Attributes carries every
// extra string the script returned.
type Result struct {
	Type       Type
	InFile     string
	Watermark  string
	Size       string
	CookieURL  string
	TokenURL   string
	LogoutURL  string
	Attributes map[string]string
}

// Invoker runs the permission check for one request.
type Invoker interface {
	Preflight(ctx context.Context, prefix, identifier, cookie string) (Result, error)
}

// Func adapts a function to the Invoker interface.
type Func func(ctx context.Context, prefix, identifier, cookie string) (Result, error)

// Preflight calls f.
func (f Func) Preflight(ctx context.Context, prefix, identifier, cookie string) (Result, error) {
	return f(ctx, prefix, identifier, cookie)
}

// Static allows every request and leaves path resolution to the caller.
type Static struct{}

// Preflight always returns allow.
func (Static) Preflight(context.Context, string, string, string) (Result, error) {
	return Result{Type: TypeAllow}, nil
}

// Classify validates the values returned by a preflight script. values must
// contain "type"; infile is required for every type except deny.
func Classify(values map[string]string, infile string) (Result, error) {
	typ := Type(values["type"])
	if typ == "" {
		return Result{}, fmt.Errorf("preflight: permission has no type")
	}
	if !typ.valid() {
		return Result{}, fmt.Errorf("preflight: invalid permission type %q", typ)
	}

	res := Result{Type: typ}
	if typ != TypeDeny {
		if infile == "" {
			return Result{}, fmt.Errorf("preflight: %s permission without a file path", typ)
		}
		res.InFile = infile
	}

	for key, val := range values {
		switch key {
		case "type":
		case "watermark":
			res.Watermark = val
		case "size":
			res.Size = val
		case "cookieUrl":
			res.CookieURL = val
		case "tokenUrl":
			res.TokenURL = val
		case "logoutUrl":
			res.LogoutURL = val
		default:
			if res.Attributes == nil {
				res.Attributes = make(map[string]string)
			}
			res.Attributes[key] = val
		}
	}
	return res, nil
}
