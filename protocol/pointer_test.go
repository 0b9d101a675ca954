package protocol

import (
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestPointerRoundTrip(t *testing.T) {
	tokenLists := [][]string{
		{"clock_label"},
		{"devices", "by_id", "dev-250", "status"},
		{"a/b", "c~d"},
		{"~1", "~0", "/"},
		{""},
	}
	for _, tokens := range tokenLists {
		pointer := Pointer(tokens...)
		parsed, err := ParsePointer(pointer)
		assert.Equal(t, nil, err)
		assert.Equal(t, tokens, parsed)
	}
}

func TestPointerRoot(t *testing.T) {
	assert.Equal(t, "", Pointer())
	parsed, err := ParsePointer("")
	assert.Equal(t, nil, err)
	assert.Equal(t, 0, len(parsed))
}

func TestEscapeRoundTrip(t *testing.T) {
	for _, s := range []string{"", "~", "/", "~/", "a~1b", "plain", "~0~1"} {
		unescaped, err := UnescapeToken(EscapeToken(s))
		assert.Equal(t, nil, err)
		assert.Equal(t, s, unescaped)
	}
}

func TestParsePointerInvalid(t *testing.T) {
	_, err := ParsePointer("no-slash")
	pointerErr, ok := err.(*PointerError)
	assert.Equal(t, true, ok)
	assert.Equal(t, ErrorKindInvalidPointer, pointerErr.Kind)

	for _, pointer := range []string{"/a~", "/a~2b", "/~x"} {
		_, err := ParsePointer(pointer)
		pointerErr, ok := err.(*PointerError)
		assert.Equal(t, true, ok)
		assert.Equal(t, ErrorKindInvalidEscape, pointerErr.Kind)
	}
}

func TestOpBuildersValidatePaths(t *testing.T) {
	op, err := NewReplaceOp("/devices/by_id/dev-250/status", "Offline (2m)")
	assert.Equal(t, nil, err)
	assert.Equal(t, PatchOpReplace, op.Op)

	_, err = NewAddOp("bad-path", 1)
	assert.NotEqual(t, nil, err)

	_, err = NewRemoveOp("/bad~escape")
	assert.NotEqual(t, nil, err)
}
