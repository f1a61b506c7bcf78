package statemachine

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKVStateMachine_PutGetDelete(t *testing.T) {
	sm, err := NewKVStateMachine(t.TempDir())
	require.NoError(t, err)
	defer sm.Close()

	putCmd, err := EncodePut("alpha", []byte("1"))
	require.NoError(t, err)

	_, err = sm.Apply(putCmd)
	require.NoError(t, err)

	value, err := sm.Get("alpha")
	require.NoError(t, err)
	require.Equal(t, []byte("1"), value)

	delCmd, err := EncodeDelete("alpha")
	require.NoError(t, err)

	prev, err := sm.Apply(delCmd)
	require.NoError(t, err)
	require.Equal(t, []byte("1"), []byte(prev))

	_, err = sm.Get("alpha")
	require.Error(t, err)
}

func TestKVStateMachine_ApplyIsDeterministic(t *testing.T) {
	a, err := NewKVStateMachine(t.TempDir())
	require.NoError(t, err)
	defer a.Close()
	b, err := NewKVStateMachine(t.TempDir())
	require.NoError(t, err)
	defer b.Close()

	cmds := []struct {
		key   string
		value string
	}{
		{"x", "1"}, {"y", "2"}, {"x", "3"},
	}

	for _, c := range cmds {
		putCmd, err := EncodePut(c.key, []byte(c.value))
		require.NoError(t, err)
		_, err = a.Apply(putCmd)
		require.NoError(t, err)
		_, err = b.Apply(putCmd)
		require.NoError(t, err)
	}

	av, err := a.Get("x")
	require.NoError(t, err)
	bv, err := b.Get("x")
	require.NoError(t, err)
	require.Equal(t, av, bv)
}
