package assert

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type api interface{ Call() }

type impl struct{}

func (*impl) Call() {}

func TestNotNil(t *testing.T) {
	var typedNil *impl
	var nilApi api = typedNil

	require.Panics(t, func() { NotNil(nil) })
	require.Panics(t, func() { NotNil(typedNil) })
	require.Panics(t, func() { NotNil(nilApi) })
	require.Panics(t, func() { NotNil(map[string]int(nil)) })

	require.NotPanics(t, func() { NotNil(&impl{}) })
	require.NotPanics(t, func() { NotNil(0) })
	require.NotPanics(t, func() { NotNil("") })
}
