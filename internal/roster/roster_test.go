package roster

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/resqnet/resqnet/internal/database"
)

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&database.Responder{}))
	return db
}

type countingRoster struct {
	calls int
	inner Roster
}

func (c *countingRoster) Lookup(ctx context.Context, id string) (*Contact, error) {
	c.calls++
	return c.inner.Lookup(ctx, id)
}

func TestDBRoster_Lookup(t *testing.T) {
	db := setupTestDB(t)
	require.NoError(t, db.Create(&database.Responder{
		ID: "responder001", DisplayName: "Nimal", Email: "nimal@example.test", Phone: "+94770000001", Active: true,
	}).Error)
	require.NoError(t, db.Create(&database.Responder{ID: "retired", Active: false}).Error)

	r := NewDBRoster(db)

	c, err := r.Lookup(context.Background(), "responder001")
	require.NoError(t, err)
	assert.Equal(t, "Nimal", c.Name())
	assert.Equal(t, "nimal@example.test", c.Email)

	_, err = r.Lookup(context.Background(), "retired")
	assert.True(t, errors.Is(err, ErrResponderNotFound))

	_, err = r.Lookup(context.Background(), "")
	assert.True(t, errors.Is(err, ErrResponderNotFound))
}

func TestCachedRoster_CachesHitsOnly(t *testing.T) {
	inner := &countingRoster{inner: Static{"r1": {ID: "r1"}}}
	r := NewCachedRoster(inner, time.Minute)

	for i := 0; i < 3; i++ {
		_, err := r.Lookup(context.Background(), "r1")
		require.NoError(t, err)
	}
	assert.Equal(t, 1, inner.calls)

	for i := 0; i < 2; i++ {
		_, err := r.Lookup(context.Background(), "missing")
		require.Error(t, err)
	}
	assert.Equal(t, 3, inner.calls)
}

func TestCachedRoster_EntriesExpire(t *testing.T) {
	inner := &countingRoster{inner: Static{"r1": {ID: "r1"}}}
	r := NewCachedRoster(inner, 20*time.Millisecond)

	_, err := r.Lookup(context.Background(), "r1")
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	_, err = r.Lookup(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls)
}

func TestCachedRoster_ReturnsCopies(t *testing.T) {
	r := NewCachedRoster(Static{"r1": {ID: "r1", Email: "a@example.test"}}, time.Minute)

	c, err := r.Lookup(context.Background(), "r1")
	require.NoError(t, err)
	c.Email = "mutated"

	again, err := r.Lookup(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, "a@example.test", again.Email)
}

func TestContact_NameFallsBackToID(t *testing.T) {
	c := Contact{ID: "admin_seed"}
	assert.Equal(t, "admin_seed", c.Name())
}
