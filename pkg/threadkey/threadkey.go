// Package threadkey encodes a message's full ancestor-timestamp chain into
// one string whose lexicographic order reproduces the depth-first display
// order of a thread: every reply sorts directly after its parent and before
// any later sibling of that parent.
//
// A key is a sequence of fixed-width millisecond timestamps joined by the
// separator and closed by the terminator:
//
//	0000001726000123!                    top-level message
//	0000001726000123#0000001726000641!   reply to it
//
// The terminator sorts below the separator, which itself sorts below any
// digit. That ordering is what interleaves children between their ancestor
// and the ancestor's later siblings under a plain byte compare.
package threadkey

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	// Separator joins the timestamp segments of a key.
	Separator = "#"
	// Terminator closes every key. It must sort below Separator.
	Terminator = "!"
	// tsWidth is the zero-padded width of each segment. Millisecond epoch
	// values fit in 13 digits until the year 2286.
	tsWidth = 13
)

// ErrInvalidKey is returned when a thread key is malformed.
var ErrInvalidKey = fmt.Errorf("invalid thread key")

func pad(ts int64) string {
	return fmt.Sprintf("%0*d", tsWidth, ts)
}

// Root builds the key of a top-level message.
func Root(created int64) string {
	return pad(created) + Terminator
}

// Append builds a reply's key from its parent's key: strip the parent's
// terminator, append the separator and the reply's own timestamp, close
// the key again.
func Append(parentKey string, childCreated int64) (string, error) {
	if !strings.HasSuffix(parentKey, Terminator) || len(parentKey) == len(Terminator) {
		return "", fmt.Errorf("%w: %q lacks terminator", ErrInvalidKey, parentKey)
	}
	trimmed := strings.TrimSuffix(parentKey, Terminator)
	return trimmed + Separator + pad(childCreated) + Terminator, nil
}

// segments splits a key into its timestamp segments, validating shape.
func segments(key string) ([]string, error) {
	if !strings.HasSuffix(key, Terminator) {
		return nil, fmt.Errorf("%w: %q lacks terminator", ErrInvalidKey, key)
	}
	segs := strings.Split(strings.TrimSuffix(key, Terminator), Separator)
	for _, s := range segs {
		if len(s) != tsWidth {
			return nil, fmt.Errorf("%w: segment %q has width %d, want %d", ErrInvalidKey, s, len(s), tsWidth)
		}
	}
	return segs, nil
}

func parseSegment(s string) (int64, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: bad segment %q: %v", ErrInvalidKey, s, err)
	}
	return v, nil
}

// Created returns the message's own creation timestamp, the deepest segment.
func Created(key string) (int64, error) {
	segs, err := segments(key)
	if err != nil {
		return 0, err
	}
	return parseSegment(segs[len(segs)-1])
}

// Level returns the nesting depth: the number of separators in the key.
func Level(key string) (int, error) {
	segs, err := segments(key)
	if err != nil {
		return 0, err
	}
	return len(segs) - 1, nil
}

// ReplyTo returns the parent's creation timestamp, the second-deepest
// segment. ok is false for a top-level key.
func ReplyTo(key string) (parent int64, ok bool, err error) {
	segs, err := segments(key)
	if err != nil {
		return 0, false, err
	}
	if len(segs) < 2 {
		return 0, false, nil
	}
	parent, err = parseSegment(segs[len(segs)-2])
	if err != nil {
		return 0, false, err
	}
	return parent, true, nil
}

// WithoutTerminator strips the trailing terminator, yielding the prefix
// used for descendant tests.
func WithoutTerminator(key string) (string, error) {
	if !strings.HasSuffix(key, Terminator) {
		return "", fmt.Errorf("%w: %q lacks terminator", ErrInvalidKey, key)
	}
	return strings.TrimSuffix(key, Terminator), nil
}

// IsDescendant reports whether candidate lies strictly below the message
// whose terminator-stripped key is ancestorPrefix: the candidate must start
// with the prefix immediately followed by the separator.
func IsDescendant(candidate, ancestorPrefix string) bool {
	return strings.HasPrefix(candidate, ancestorPrefix+Separator)
}
