package contact_test

import (
	"context"
	"os"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Ramsey-B/clover/internal/repositories/contact"
	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/models"
)

func getTestLogger() ectologger.Logger {
	zapLogger, _ := zap.NewDevelopment()
	return zapadapter.NewZapEctoLogger(zapLogger, nil)
}

func getTestDB(t *testing.T) database.DB {
	_ = godotenv.Load("../../../.env")

	dbHost := os.Getenv("DB_HOST")
	if dbHost == "" {
		dbHost = "localhost"
	}
	dbUser := os.Getenv("DB_USER_NAME")
	if dbUser == "" {
		dbUser = "user"
	}
	dbPass := os.Getenv("DB_PASSWORD")
	if dbPass == "" {
		dbPass = "password"
	}
	dbName := os.Getenv("DB_NAME")
	if dbName == "" {
		dbName = "clover"
	}

	dsn := "host=" + dbHost + " user=" + dbUser + " password=" + dbPass + " dbname=" + dbName + " sslmode=disable"
	db, err := sqlx.Connect("postgres", dsn)
	require.NoError(t, err, "Failed to connect to test database")

	return database.NewDatabaseInstance(db, getTestLogger())
}

func truncateContacts(t *testing.T, db database.DB) {
	t.Helper()
	_, err := db.ExecContext(context.Background(), "TRUNCATE contacts RESTART IDENTITY CASCADE")
	require.NoError(t, err)
}

func strPtr(s string) *string { return &s }

func TestRepository_CreateAndFind(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := getTestDB(t)
	defer db.Close()
	truncateContacts(t, db)

	repo := contact.NewRepository(db, getTestLogger())
	ctx := context.Background()

	primary, err := repo.Create(ctx, strPtr("doc@flux.io"), strPtr("555-0100"), models.LinkPrecedencePrimary, nil)
	require.NoError(t, err)
	assert.NotZero(t, primary.ID)
	assert.Equal(t, models.LinkPrecedencePrimary, primary.LinkPrecedence)
	assert.Nil(t, primary.LinkedID)
	assert.False(t, primary.CreatedAt.IsZero())

	t.Run("MatchOnEmail", func(t *testing.T) {
		found, err := repo.FindMatching(ctx, strPtr("doc@flux.io"), nil)
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.Equal(t, primary.ID, found[0].ID)
	})

	t.Run("MatchOnPhone", func(t *testing.T) {
		found, err := repo.FindMatching(ctx, nil, strPtr("555-0100"))
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.Equal(t, primary.ID, found[0].ID)
	})

	t.Run("MatchOnEitherField", func(t *testing.T) {
		found, err := repo.FindMatching(ctx, strPtr("unknown@flux.io"), strPtr("555-0100"))
		require.NoError(t, err)
		require.Len(t, found, 1)
	})

	t.Run("NoMatch", func(t *testing.T) {
		found, err := repo.FindMatching(ctx, strPtr("unknown@flux.io"), strPtr("555-0999"))
		require.NoError(t, err)
		assert.Empty(t, found)
	})

	t.Run("NeitherFieldIsBadRequest", func(t *testing.T) {
		_, err := repo.FindMatching(ctx, nil, nil)
		require.Error(t, err)
	})

	t.Run("FindByIDs", func(t *testing.T) {
		found, err := repo.FindByIDs(ctx, []int64{primary.ID, 9999})
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.Equal(t, primary.ID, found[0].ID)
	})
}

func TestRepository_FindCluster(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := getTestDB(t)
	defer db.Close()
	truncateContacts(t, db)

	repo := contact.NewRepository(db, getTestLogger())
	ctx := context.Background()

	primary, err := repo.Create(ctx, strPtr("doc@flux.io"), nil, models.LinkPrecedencePrimary, nil)
	require.NoError(t, err)
	secondary, err := repo.Create(ctx, strPtr("emmett@flux.io"), nil, models.LinkPrecedenceSecondary, &primary.ID)
	require.NoError(t, err)
	// An unrelated primary must not appear in the cluster.
	_, err = repo.Create(ctx, strPtr("biff@hill.io"), nil, models.LinkPrecedencePrimary, nil)
	require.NoError(t, err)

	cluster, err := repo.FindCluster(ctx, primary.ID)
	require.NoError(t, err)
	require.Len(t, cluster, 2)
	assert.Equal(t, primary.ID, cluster[0].ID, "creation order: primary first")
	assert.Equal(t, secondary.ID, cluster[1].ID)
}

func TestRepository_MergeClusters(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := getTestDB(t)
	defer db.Close()
	truncateContacts(t, db)

	repo := contact.NewRepository(db, getTestLogger())
	ctx := context.Background()

	survivor, err := repo.Create(ctx, strPtr("george@hill.io"), nil, models.LinkPrecedencePrimary, nil)
	require.NoError(t, err)
	demoted, err := repo.Create(ctx, nil, strPtr("555-0144"), models.LinkPrecedencePrimary, nil)
	require.NoError(t, err)
	tail, err := repo.Create(ctx, strPtr("biff@hill.io"), strPtr("555-0144"), models.LinkPrecedenceSecondary, &demoted.ID)
	require.NoError(t, err)

	err = repo.MergeClusters(ctx, survivor.ID, []int64{demoted.ID})
	require.NoError(t, err)

	cluster, err := repo.FindCluster(ctx, survivor.ID)
	require.NoError(t, err)
	require.Len(t, cluster, 3)

	byID := make(map[int64]models.Contact, len(cluster))
	for _, c := range cluster {
		byID[c.ID] = c
	}

	assert.Equal(t, models.LinkPrecedenceSecondary, byID[demoted.ID].LinkPrecedence)
	require.NotNil(t, byID[demoted.ID].LinkedID)
	assert.Equal(t, survivor.ID, *byID[demoted.ID].LinkedID)

	require.NotNil(t, byID[tail.ID].LinkedID)
	assert.Equal(t, survivor.ID, *byID[tail.ID].LinkedID, "secondary of demoted primary re-points at survivor")

	t.Run("Idempotent", func(t *testing.T) {
		err := repo.MergeClusters(ctx, survivor.ID, []int64{demoted.ID})
		require.NoError(t, err)

		again, err := repo.FindCluster(ctx, survivor.ID)
		require.NoError(t, err)
		assert.Len(t, again, 3)
	})

	t.Run("EmptyDemoteListIsNoop", func(t *testing.T) {
		assert.NoError(t, repo.MergeClusters(ctx, survivor.ID, nil))
	})
}

func TestRepository_SoftDeletedContactsAreFiltered(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := getTestDB(t)
	defer db.Close()
	truncateContacts(t, db)

	repo := contact.NewRepository(db, getTestLogger())
	ctx := context.Background()

	ghost, err := repo.Create(ctx, strPtr("ghost@flux.io"), nil, models.LinkPrecedencePrimary, nil)
	require.NoError(t, err)

	_, err = db.ExecContext(ctx, "UPDATE contacts SET deleted_at = now() WHERE id = $1", ghost.ID)
	require.NoError(t, err)

	found, err := repo.FindMatching(ctx, strPtr("ghost@flux.io"), nil)
	require.NoError(t, err)
	assert.Empty(t, found)

	byIDs, err := repo.FindByIDs(ctx, []int64{ghost.ID})
	require.NoError(t, err)
	assert.Empty(t, byIDs)

	cluster, err := repo.FindCluster(ctx, ghost.ID)
	require.NoError(t, err)
	assert.Empty(t, cluster)
}
