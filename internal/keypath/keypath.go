// Package keypath implements the two key flavors of spec.md §4.3: plain
// byte-string keys for the log variant, and escaped Unicode Paths with
// obfuscation hashing for the tree variant.
package keypath

import (
	"encoding/hex"
	"strings"

	"github.com/wesleyyan-sb/kvsync/internal/xcrypto"
	"github.com/wesleyyan-sb/kvsync/kverr"
)

// ValidateKey enforces the log variant's (lack of) constraints: any
// non-empty byte string is a valid key; identity is byte equality.
func ValidateKey(key []byte) error {
	if len(key) == 0 {
		return kverr.InvalidKey
	}
	return nil
}

// ValidatePath checks a Path against the grammar
// ^(/|(/[component])+)$ where a component is one or more code points
// from {any Unicode} \ {'/', '\'}, with '\' escaping either special
// character. Trailing slashes, empty components, and escapes of
// non-special characters are all rejected.
func ValidatePath(path string) error {
	if path == "" || path[0] != '/' {
		return kverr.InvalidPath
	}
	if path == "/" {
		return nil
	}
	if strings.HasSuffix(path, "/") {
		return &kverr.PathError{Path: path, Err: kverr.InvalidPath}
	}

	runes := []rune(path)
	i := 1 // skip leading '/'
	for i < len(runes) {
		start := i
		componentLen := 0
		for i < len(runes) && runes[i] != '/' {
			if runes[i] == '\\' {
				i++
				if i >= len(runes) {
					return &kverr.PathError{Path: path, Err: kverr.InvalidPath}
				}
				if runes[i] != '/' && runes[i] != '\\' {
					return &kverr.PathError{Path: path, Err: kverr.InvalidPath}
				}
				i++
				componentLen++
				continue
			}
			i++
			componentLen++
		}
		if componentLen == 0 {
			return &kverr.PathError{Path: path, Err: kverr.InvalidPath}
		}
		if i < len(runes) && runes[i] == '/' {
			i++
			if i == len(runes) {
				return &kverr.PathError{Path: path, Err: kverr.InvalidPath}
			}
		}
		_ = start
	}
	return nil
}

// Normalize strips escapes from a validated Path, turning "\\/" and
// "\\\\" into their literal characters so that equivalent escaped forms
// hash identically.
func Normalize(path string) []byte {
	runes := []rune(path)
	out := make([]rune, 0, len(runes))
	for i := 0; i < len(runes); i++ {
		if runes[i] == '\\' && i+1 < len(runes) {
			i++
			out = append(out, runes[i])
			continue
		}
		out = append(out, runes[i])
	}
	return []byte(string(out))
}

// Components splits a validated Path into its unescaped component names,
// in order. The root path "/" yields no components.
func Components(path string) []string {
	if path == "/" {
		return nil
	}
	runes := []rune(path[1:])
	var comps []string
	var cur strings.Builder
	for i := 0; i < len(runes); i++ {
		if runes[i] == '\\' && i+1 < len(runes) {
			i++
			cur.WriteRune(runes[i])
			continue
		}
		if runes[i] == '/' {
			comps = append(comps, cur.String())
			cur.Reset()
			continue
		}
		cur.WriteRune(runes[i])
	}
	comps = append(comps, cur.String())
	return comps
}

// Escape re-escapes a literal component name for embedding in a Path.
func Escape(component string) string {
	var b strings.Builder
	for _, r := range component {
		if r == '/' || r == '\\' {
			b.WriteRune('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Join builds a valid Path string from a parent path and a literal (not
// pre-escaped) child component name.
func Join(parent, childComponent string) string {
	if parent == "/" {
		return "/" + Escape(childComponent)
	}
	return parent + "/" + Escape(childComponent)
}

// ObfuscatedLocation computes the on-disk location of a Path under the
// tree variant's content-addressed layout: <root>/cryptic/XX/YY…
// relative to root, per spec.md §4.3.
func ObfuscatedLocation(salt []byte, path string) (dir, name string) {
	sum := xcrypto.ObfuscationHash(salt, Normalize(path))
	return hex.EncodeToString(sum[:1]), hex.EncodeToString(sum[1:])
}
