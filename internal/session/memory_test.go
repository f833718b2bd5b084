package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"clinicalcore/internal/coreerr"
)

func TestMemoryStoreSaveLoadRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	s := Session{
		SessionID:   "sess-1",
		UserID:      "user-1",
		Mode:        "standard",
		ActiveAgent: "clinico",
		History: []Message{
			{ID: "m1", Role: RoleUser, Content: "hello", Timestamp: time.Now()},
		},
		Metadata: Metadata{CreatedAt: time.Now(), LastUpdated: time.Now()},
		ClinicalContext: ClinicalContext{
			SessionType:     "supervision",
			Confidentiality: ConfidentialityHigh,
		},
	}
	require.NoError(t, store.Save(ctx, s))

	got, err := store.Load(ctx, "sess-1")
	require.NoError(t, err)
	require.Equal(t, "user-1", got.UserID)
	require.Len(t, got.History, 1)

	// Mutating the returned copy must not affect the stored session.
	got.History[0].Content = "mutated"
	again, err := store.Load(ctx, "sess-1")
	require.NoError(t, err)
	require.Equal(t, "hello", again.History[0].Content)
}

func TestMemoryStoreLoadNotFound(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.Load(context.Background(), "missing")
	require.ErrorIs(t, err, coreerr.ErrNotFound)
}

func TestMemoryStoreDeleteNotFound(t *testing.T) {
	store := NewMemoryStore()
	err := store.Delete(context.Background(), "missing")
	require.ErrorIs(t, err, coreerr.ErrNotFound)
}

func TestMemoryStoreListByUserPagination(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Now()

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Save(ctx, Session{
			SessionID: idFor(i),
			UserID:    "user-1",
			Metadata:  Metadata{LastUpdated: base.Add(time.Duration(i) * time.Minute)},
		}))
	}
	// A different user's session must never appear in user-1's pages.
	require.NoError(t, store.Save(ctx, Session{SessionID: "other", UserID: "user-2"}))

	page, err := store.ListByUser(ctx, "user-1", 2, "")
	require.NoError(t, err)
	require.Len(t, page.Sessions, 2)
	require.NotEmpty(t, page.NextPageToken)
	require.Equal(t, idFor(4), page.Sessions[0].SessionID)

	page2, err := store.ListByUser(ctx, "user-1", 2, page.NextPageToken)
	require.NoError(t, err)
	require.Len(t, page2.Sessions, 2)

	page3, err := store.ListByUser(ctx, "user-1", 2, page2.NextPageToken)
	require.NoError(t, err)
	require.Len(t, page3.Sessions, 1)
	require.Empty(t, page3.NextPageToken)
}

func idFor(i int) string {
	return "sess-" + string(rune('a'+i))
}
