package db

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestEvents(t *testing.T) {
	sqlite, err := Open(":memory:")
	require.NoError(t, err)
	defer sqlite.Close()

	ctx := context.Background()
	qry := New(sqlite)

	events := []InsertEventParams{
		{ID: "a", Kind: EVENT_FOLLOW, PostID: 1, AttachmentID: 10, AttachmentName: "a.zip", AuthorID: 5, CreatedAt: 100},
		{ID: "b", Kind: EVENT_PURCHASE, PostID: 1, AttachmentID: 10, AttachmentName: "a.zip", AuthorID: 5, Point: 20, CreatedAt: 101},
		{ID: "c", Kind: EVENT_DOWNLOAD, PostID: 1, AttachmentID: 10, AttachmentName: "a.zip", AuthorID: 5, Point: 20, CreatedAt: 101},
		{ID: "d", Kind: EVENT_PURCHASE, PostID: 2, AttachmentID: 11, AttachmentName: "b.zip", Point: 3, CreatedAt: 102},
	}
	for _, e := range events {
		require.NoError(t, qry.InsertEvent(ctx, e))
	}

	listed, err := qry.ListEvents(ctx, 3)
	require.NoError(t, err)
	expected := []Event{
		{ID: "d", Kind: EVENT_PURCHASE, PostID: 2, AttachmentID: 11, AttachmentName: "b.zip", Point: 3, CreatedAt: 102},
		{ID: "c", Kind: EVENT_DOWNLOAD, PostID: 1, AttachmentID: 10, AttachmentName: "a.zip", AuthorID: 5, Point: 20, CreatedAt: 101},
		{ID: "b", Kind: EVENT_PURCHASE, PostID: 1, AttachmentID: 10, AttachmentName: "a.zip", AuthorID: 5, Point: 20, CreatedAt: 101},
	}
	if diff := cmp.Diff(expected, listed); diff != "" {
		t.Fatalf("unexpected events (-want +got):\n%s", diff)
	}

	total, err := qry.SumPoints(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(23), total)

	// ids are unique
	require.Error(t, qry.InsertEvent(ctx, events[0]))
}

func TestTx(t *testing.T) {
	sqlite, err := Open(":memory:")
	require.NoError(t, err)
	defer sqlite.Close()

	ctx := context.Background()
	makeTx := NewMakeTx(sqlite)

	tx, discard, _, err := makeTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.InsertEvent(ctx, InsertEventParams{ID: "x", Kind: EVENT_FOLLOW, CreatedAt: 1}))
	require.NoError(t, discard())

	tx, discard, commit, err := makeTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.InsertEvent(ctx, InsertEventParams{ID: "y", Kind: EVENT_FOLLOW, CreatedAt: 2}))
	require.NoError(t, commit())
	require.NoError(t, discard())

	listed, err := New(sqlite).ListEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	require.Equal(t, "y", listed[0].ID)
}

func TestOpenFileTwice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")

	first, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, New(first).InsertEvent(context.Background(), InsertEventParams{ID: "a", Kind: EVENT_DOWNLOAD, CreatedAt: 1}))
	require.NoError(t, first.Close())

	second, err := Open(path)
	require.NoError(t, err)
	defer second.Close()
	listed, err := New(second).ListEvents(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, listed, 1)
}
