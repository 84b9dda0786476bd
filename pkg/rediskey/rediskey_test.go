package rediskey

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildSequenceKey(t *testing.T) {
	require.Equal(t, "seq:RCH:260801", BuildSequenceKey("RCH", "260801"))
	require.Equal(t, "a:b", NamespaceKey("a", "b"))
}
