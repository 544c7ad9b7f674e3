package gid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIDStable(t *testing.T) {
	require.Equal(t, ID(), ID())
}

func TestIDDistinctPerGoroutine(t *testing.T) {
	main := ID()
	other := make(chan uint64)
	go func() { other <- ID() }()
	assert.NotEqual(t, main, <-other)
}
