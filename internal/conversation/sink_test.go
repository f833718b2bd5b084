package conversation

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSinkDropsOldestWhenFull(t *testing.T) {
	s := NewSink[string](2)
	s.Send("a")
	s.Send("b")
	s.Send("c") // "a" should be dropped

	require.Equal(t, "b", <-s.C())
	require.Equal(t, "c", <-s.C())
}

func TestSinkCloseIsIdempotent(t *testing.T) {
	s := NewSink[int](1)
	s.Close()
	require.NotPanics(t, func() { s.Close() })
}

func TestNilSinkSendIsNoOp(t *testing.T) {
	var s *Sink[string]
	require.NotPanics(t, func() { s.Send("x") })
}
