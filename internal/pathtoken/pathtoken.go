// Package pathtoken encodes filesystem paths into opaque callback tokens.
//
// The chat transport caps a callback payload at 64 bytes, and the payload
// carries an operation prefix in front of the token. Short paths are encoded
// inline and decode without any shared state; long paths are replaced by a
// truncated digest that resolves through a per-session table populated at
// render time.
package pathtoken

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
)

const (
	// PayloadBudget is the transport's limit for prefix + token together.
	PayloadBudget = 64

	// opPrefixMax is the longest operation prefix any call site emits:
	// a navigation payload "cd:b:12345678:" (tag, mode, up to 8 offset
	// digits, separators). The cutover is computed against this worst
	// case so a token that fits here fits on every call site.
	opPrefixMax = 14

	// MaxTokenLen is the budget left for the token itself.
	MaxTokenLen = PayloadBudget - opPrefixMax

	inlineTag   = 'p'
	indirectTag = 'h'

	digestLen = 8 // hex chars of the truncated sha256
)

var (
	// ErrInvalidToken marks tokens that are malformed regardless of
	// session state.
	ErrInvalidToken = errors.New("invalid path token")

	// ErrStaleReference marks indirect tokens whose digest is not in the
	// session table, typically a button from before a restart or reset.
	ErrStaleReference = errors.New("stale path reference")
)

// Table maps truncated path digests to full paths for one session. It is
// rebuilt from scratch on every render and replaced wholesale, never swept
// entry by entry.
type Table map[string]string

// Register adds the digest mapping for path and returns the digest.
func (t Table) Register(path string) string {
	d := digest(path)
	t[d] = path
	return d
}

// Resolve looks up a digest registered by a previous render.
func (t Table) Resolve(d string) (string, bool) {
	path, ok := t[d]
	return path, ok
}

func digest(path string) string {
	sum := sha256.Sum256([]byte(path))
	return hex.EncodeToString(sum[:digestLen/2])
}

// Encode turns a path into a token that fits the payload budget. Paths short
// enough for the reversible inline form use it; longer paths are registered
// in the table and represented by their digest.
func Encode(path string, table Table) string {
	inline := string(inlineTag) + base64.RawURLEncoding.EncodeToString([]byte(path))
	if len(inline) <= MaxTokenLen {
		return inline
	}
	if table == nil {
		return string(indirectTag) + digest(path)
	}
	return string(indirectTag) + table.Register(path)
}

// Decode recovers the path behind a token. Inline tokens decode without the
// table; indirect tokens resolve through it and fail with ErrStaleReference
// when the mapping is gone.
func Decode(token string, table Table) (string, error) {
	if token == "" {
		return "", ErrInvalidToken
	}
	switch token[0] {
	case inlineTag:
		b, err := base64.RawURLEncoding.DecodeString(token[1:])
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
		}
		return string(b), nil
	case indirectTag:
		d := token[1:]
		if len(d) != digestLen || !isHex(d) {
			return "", ErrInvalidToken
		}
		path, ok := table.Resolve(d)
		if !ok {
			return "", ErrStaleReference
		}
		return path, nil
	default:
		return "", ErrInvalidToken
	}
}

func isHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
