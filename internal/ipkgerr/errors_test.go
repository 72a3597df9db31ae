package ipkgerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsAndKindOf(t *testing.T) {
	err := New(NotFound, "package %q missing", "foo")
	assert.True(t, Is(err, NotFound))
	assert.False(t, Is(err, Cycle))

	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, NotFound, kind)

	_, ok = KindOf(errors.New("plain"))
	assert.False(t, ok)
	assert.False(t, Is(nil, NotFound))
}

func TestWrapPreservesChain(t *testing.T) {
	cause := errors.New("underlying")
	err := Wrap(IoError, cause, "writing %s", "/tmp/x")

	assert.True(t, errors.Is(err, cause))
	assert.Contains(t, err.Error(), "underlying")
	assert.Contains(t, err.Error(), "/tmp/x")

	// A wrapped *Error deeper in a chain is still found.
	outer := fmt.Errorf("context: %w", err)
	assert.True(t, Is(outer, IoError))
}

func TestOperandsInMessage(t *testing.T) {
	err := New(ConflictingConstraint, "conflicting constraints").WithOperands("foo>2", "foo<1")
	assert.Contains(t, err.Error(), "foo>2")
	assert.Contains(t, err.Error(), "foo<1")
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "conflicting_constraint", ConflictingConstraint.String())
	assert.Equal(t, "unknown", Kind(99).String())
}

func TestFormatSingleLineByDefault(t *testing.T) {
	err := Wrap(ChecksumMismatch, errors.New("want a, got b"), "download failed")
	line := Format(err, false, nil)
	assert.NotContains(t, line, "\n")

	full := Format(err, true, nil)
	assert.Contains(t, full, "Possible causes")
}
