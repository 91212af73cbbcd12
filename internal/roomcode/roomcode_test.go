package roomcode

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCode2IntRoundTrip(t *testing.T) {
	for _, code := range []string{"ABCD", "ZZZZ", "AAAAAA", "QWERTY"} {
		v, err := Code2Int(code)
		require.NoError(t, err)
		require.Equal(t, code, Int2Code(v))
	}
}

func TestCode2IntRejectsBadLength(t *testing.T) {
	_, err := Code2Int("ABC")
	require.ErrorIs(t, err, ErrInvalidLength)
}

func TestCode2IntRejectsLowercase(t *testing.T) {
	_, err := Code2Int("abcd")
	require.ErrorIs(t, err, ErrInvalidCharacter)
}

func TestLobbyCode(t *testing.T) {
	require.True(t, IsLobby(LobbyCode))
	require.False(t, IsLobby(1234))
}

func TestGenerateProducesSixCharCodes(t *testing.T) {
	for i := 0; i < 100; i++ {
		v := Generate()
		code := Int2Code(v)
		require.Len(t, code, 6)
		back, err := Code2Int(code)
		require.NoError(t, err)
		require.Equal(t, v, back)
	}
}
