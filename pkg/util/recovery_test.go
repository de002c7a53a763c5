package util

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRecoverPanic(t *testing.T) {
	err := RecoverPanic(func() error {
		panic("boom")
	})()
	var pe *PanicError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, "boom", pe.Value)
	require.Contains(t, string(pe.Stack), "TestRecoverPanic")

	expected := errors.New("plain")
	require.Equal(t, expected, RecoverPanic(func() error { return expected })())
}
