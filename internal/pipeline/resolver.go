package pipeline

import (
	"path"
	"path/filepath"
	"strings"
)

const (
	hashSeed      = 137
	hashAlphabet  = 26
	MaxHashLevels = 6
)

// Resolver maps a prefix and identifier onto a file below Root. With Levels
// greater than zero the file name is spread over a tree of single-letter
// directories derived from the name.
type Resolver struct {
	Root         string
	PrefixAsPath bool
	Levels       int
	Excludes     []string
}

// Resolve returns the source path for prefix/identifier. Identifiers that
// would escape Root are rejected.
func (r *Resolver) Resolve(prefix, identifier string) (string, error) {
	if err := checkRelative("identifier", identifier); err != nil {
		return "", err
	}
	if r.PrefixAsPath && prefix != "" {
		if err := checkRelative("prefix", prefix); err != nil {
			return "", err
		}
	}

	name := identifier
	if r.useSubdirs(prefix) {
		name = HashPath(identifier, r.Levels)
	}
	if r.PrefixAsPath {
		return filepath.Join(r.Root, filepath.FromSlash(prefix), filepath.FromSlash(name)), nil
	}
	return filepath.Join(r.Root, filepath.FromSlash(name)), nil
}

// Shard applies the directory tree to the file part of a path returned by a
// preflight script.
func (r *Resolver) Shard(prefix, infile string) string {
	if !r.useSubdirs(prefix) {
		return infile
	}
	i := strings.LastIndexByte(infile, '/')
	if i < 0 || i == len(infile)-1 {
		return infile
	}
	return infile[:i] + "/" + HashPath(infile[i+1:], r.Levels)
}

func (r *Resolver) useSubdirs(prefix string) bool {
	if r.Levels <= 0 {
		return false
	}
	if r.PrefixAsPath {
		for _, ex := range r.Excludes {
			if ex == prefix {
				return false
			}
		}
	}
	return true
}

// HashPath prefixes name with levels directories named 'A' to 'Z'. The hash
// treats each byte as a signed char and wraps at 32 bits so existing trees
// keep their layout.
func HashPath(name string, levels int) string {
	if levels <= 0 {
		return name
	}
	if levels > MaxHashLevels {
		levels = MaxHashLevels
	}
	modval := uint32(hashAlphabet)
	for i := 1; i < levels; i++ {
		modval *= hashAlphabet
	}
	var hashval uint32
	for i := 0; i < len(name); i++ {
		c := uint32(int32(int8(name[i])))
		hashval = (hashval*hashSeed + c) % modval
	}

	var b strings.Builder
	for i := 0; i < levels; i++ {
		b.WriteByte(byte('A' + hashval%hashAlphabet))
		b.WriteByte('/')
		hashval /= hashAlphabet
	}
	b.WriteString(name)
	return b.String()
}

func checkRelative(what, p string) error {
	if p == "" || path.IsAbs(p) || filepath.IsAbs(p) || strings.ContainsRune(p, 0) {
		return failf(ErrNotFound, "invalid %s %q", what, p)
	}
	for _, seg := range strings.Split(filepath.ToSlash(p), "/") {
		if seg == ".." {
			return failf(ErrNotFound, "invalid %s %q", what, p)
		}
	}
	return nil
}
