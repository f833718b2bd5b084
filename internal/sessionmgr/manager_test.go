package sessionmgr

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"clinicalcore/internal/session"
)

func TestCreateSessionGeneratesIDAndOpensHandle(t *testing.T) {
	store := session.NewMemoryStore()
	mgr := New(store)

	sess, err := mgr.CreateSession(context.Background(), "user-1", "standard", "socratico", "", nil)
	require.NoError(t, err)
	require.NotEmpty(t, sess.SessionID)
	require.Equal(t, "socratico", sess.ActiveAgent)

	handle, ok := mgr.Handle(sess.SessionID)
	require.True(t, ok)
	require.Equal(t, "socratico", handle.Agent)
	require.False(t, handle.IsTransition)
}

func TestCreateSessionReturnsExistingSessionForKnownID(t *testing.T) {
	store := session.NewMemoryStore()
	mgr := New(store)

	first, err := mgr.CreateSession(context.Background(), "user-1", "standard", "clinico", "fixed-id", nil)
	require.NoError(t, err)

	second, err := mgr.CreateSession(context.Background(), "user-1", "standard", "clinico", "fixed-id", &PatientMeta{PatientID: "p-1"})
	require.NoError(t, err)
	require.Equal(t, first.SessionID, second.SessionID)
	require.Equal(t, "p-1", second.ClinicalContext.PatientID)
}

func TestDeleteSessionClosesHandleAndRemovesFromStore(t *testing.T) {
	store := session.NewMemoryStore()
	mgr := New(store)

	sess, err := mgr.CreateSession(context.Background(), "user-1", "standard", "socratico", "", nil)
	require.NoError(t, err)

	require.NoError(t, mgr.DeleteSession(context.Background(), sess.SessionID))

	_, ok := mgr.Handle(sess.SessionID)
	require.False(t, ok)

	_, err = store.Load(context.Background(), sess.SessionID)
	require.Error(t, err)
}

func TestSwitchAgentReplacesHandleAndMarksTransition(t *testing.T) {
	store := session.NewMemoryStore()
	mgr := New(store)

	sess, err := mgr.CreateSession(context.Background(), "user-1", "standard", "socratico", "", nil)
	require.NoError(t, err)

	h := mgr.SwitchAgent(sess.SessionID, "clinico", nil)
	require.True(t, h.IsTransition)
	require.Equal(t, "clinico", h.Agent)

	current, ok := mgr.Handle(sess.SessionID)
	require.True(t, ok)
	require.Equal(t, "clinico", current.Agent)
}

func TestLockSerializesAccessPerSession(t *testing.T) {
	store := session.NewMemoryStore()
	mgr := New(store)

	release := mgr.Lock("session-a")
	unlocked := make(chan struct{})
	go func() {
		mgr.Lock("session-a")()
		close(unlocked)
	}()

	time.Sleep(20 * time.Millisecond)
	select {
	case <-unlocked:
		t.Fatal("second Lock acquired while first was held")
	default:
	}
	release()
	<-unlocked
}
