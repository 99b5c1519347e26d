package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaskToken(t *testing.T) {
	assert.Equal(t, "(missing)", maskToken(""))
	assert.Equal(t, "****", maskToken("abc"))
	assert.Equal(t, "****cdef", maskToken("ghp_abcdef"))
}

func TestOverridesOnlyChangedFlags(t *testing.T) {
	require.NoError(t, rootCmd.ParseFlags([]string{"--port", "4000", "--debug"}))
	t.Cleanup(func() {
		for _, name := range []string{"port", "debug"} {
			f := rootCmd.Flags().Lookup(name)
			_ = f.Value.Set(f.DefValue)
			f.Changed = false
		}
	})

	o := overrides(rootCmd)
	require.NotNil(t, o.Port)
	assert.Equal(t, 4000, *o.Port)
	require.NotNil(t, o.Debug)
	assert.True(t, *o.Debug)
	assert.Nil(t, o.Host)
	assert.Nil(t, o.DataDir)
	assert.Nil(t, o.Theme)
}
