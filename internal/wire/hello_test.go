package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHelloRoundTrip(t *testing.T) {
	m := Hello{ProtocolVersion: ProtocolVersion, Name: "Alice", Language: 1, Platform: 2}
	got, err := DecodeHello(EncodeHello(m))
	require.NoError(t, err)
	require.Equal(t, m, got)
}
