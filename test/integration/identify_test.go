package integration

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/internal/repositories/contact"
	"github.com/Ramsey-B/clover/pkg/reconcile"
)

// newTestEngine wires the reconciliation engine to a real repository over the
// test database.
func newTestEngine(t *testing.T) (*reconcile.Engine, *contact.Repository) {
	t.Helper()
	db := getTestDB(t)
	t.Cleanup(func() { _ = db.Close() })
	truncateContacts(t, db)

	repo := contact.NewRepository(db, getTestLogger())
	return reconcile.NewEngine(getTestLogger(), repo), repo
}

func TestIdentify_EndToEnd_NewContact(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	engine, _ := newTestEngine(t)
	ctx := context.Background()

	view, err := engine.Identify(ctx, strPtr("doc@flux.io"), strPtr("555-0100"))
	require.NoError(t, err)

	assert.Equal(t, []string{"doc@flux.io"}, view.Emails)
	assert.Equal(t, []string{"555-0100"}, view.PhoneNumbers)
	assert.Empty(t, view.SecondaryContactIDs)
}

func TestIdentify_EndToEnd_GrowCluster(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	engine, _ := newTestEngine(t)
	ctx := context.Background()

	first, err := engine.Identify(ctx, strPtr("doc@flux.io"), strPtr("555-0100"))
	require.NoError(t, err)

	// Same phone, new email: the cluster gains one secondary.
	second, err := engine.Identify(ctx, strPtr("emmett@flux.io"), strPtr("555-0100"))
	require.NoError(t, err)

	assert.Equal(t, first.PrimaryContactID, second.PrimaryContactID)
	assert.Equal(t, []string{"doc@flux.io", "emmett@flux.io"}, second.Emails)
	assert.Equal(t, []string{"555-0100"}, second.PhoneNumbers)
	require.Len(t, second.SecondaryContactIDs, 1)

	// Replay of the original request mutates nothing.
	third, err := engine.Identify(ctx, strPtr("doc@flux.io"), strPtr("555-0100"))
	require.NoError(t, err)
	assert.Equal(t, second, third)
}

func TestIdentify_EndToEnd_MergeClusters(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	engine, repo := newTestEngine(t)
	ctx := context.Background()

	older, err := engine.Identify(ctx, strPtr("george@hill.io"), strPtr("555-0199"))
	require.NoError(t, err)
	newer, err := engine.Identify(ctx, strPtr("biff@hill.io"), strPtr("555-0144"))
	require.NoError(t, err)
	require.NotEqual(t, older.PrimaryContactID, newer.PrimaryContactID)

	// Bridge the two clusters: the older primary survives.
	merged, err := engine.Identify(ctx, strPtr("george@hill.io"), strPtr("555-0144"))
	require.NoError(t, err)

	assert.Equal(t, older.PrimaryContactID, merged.PrimaryContactID)
	assert.ElementsMatch(t, []string{"george@hill.io", "biff@hill.io"}, merged.Emails)
	assert.ElementsMatch(t, []string{"555-0199", "555-0144"}, merged.PhoneNumbers)
	assert.Contains(t, merged.SecondaryContactIDs, newer.PrimaryContactID)

	// The demoted primary now resolves to the survivor's cluster.
	cluster, err := repo.FindCluster(ctx, merged.PrimaryContactID)
	require.NoError(t, err)
	for _, c := range cluster {
		if c.ID == merged.PrimaryContactID {
			assert.True(t, c.IsPrimary())
			continue
		}
		require.NotNil(t, c.LinkedID)
		assert.Equal(t, merged.PrimaryContactID, *c.LinkedID)
	}

	// Identifying by the demoted cluster's values returns the merged view.
	byOldValues, err := engine.Identify(ctx, strPtr("biff@hill.io"), nil)
	require.NoError(t, err)
	assert.Equal(t, merged.PrimaryContactID, byOldValues.PrimaryContactID)
}

func TestIdentify_EndToEnd_View(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	engine, _ := newTestEngine(t)
	ctx := context.Background()

	created, err := engine.Identify(ctx, strPtr("doc@flux.io"), strPtr("555-0100"))
	require.NoError(t, err)
	grown, err := engine.Identify(ctx, strPtr("emmett@flux.io"), strPtr("555-0100"))
	require.NoError(t, err)

	view, err := engine.View(ctx, grown.SecondaryContactIDs[0])
	require.NoError(t, err)
	assert.Equal(t, created.PrimaryContactID, view.PrimaryContactID)
	assert.Equal(t, grown, view)

	_, err = engine.View(ctx, 99999)
	require.Error(t, err)
}
