package subscription_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"herald/service/subscription"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *subscription.Store {
	t.Helper()

	store, err := subscription.NewStore(filepath.Join(t.TempDir(), "subscribers.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})

	return store
}

func testSubscription(subscriberID, endpoint string) subscription.Subscription {
	return subscription.Subscription{
		SubscriberID: subscriberID,
		Endpoint:     endpoint,
		P256dh:       "BCVxsr7N_eNgVRqvHtD0zTZsEc6-VV-JvLexhqUzORcxaOzi6-AYWXvTBHm4bjyPjs7Vd8pZGH6SRpkNtoIAiw4",
		Auth:         "BTBZMqHH6r4Tts7J_aSIgg",
		UserAgent:    "Mozilla/5.0",
	}
}

func TestStoreUpsertAndFind(t *testing.T) {
	store := newTestStore(t)

	sub := testSubscription("user-1", "https://push.example.com/send/abc")
	id, err := store.Upsert(sub)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	found, err := store.Find("user-1")
	require.NoError(t, err)
	require.NotNil(t, found)

	assert.Equal(t, id, found.ID)
	assert.Equal(t, "user-1", found.SubscriberID)
	assert.Equal(t, sub.Endpoint, found.Endpoint)
	assert.Equal(t, sub.P256dh, found.P256dh)
	assert.Equal(t, sub.Auth, found.Auth)
	assert.Equal(t, sub.UserAgent, found.UserAgent)
	assert.True(t, found.HasKeys())
	assert.WithinDuration(t, time.Now(), found.CreatedAt, time.Minute)
}

func TestStoreUpsertReplacesExisting(t *testing.T) {
	store := newTestStore(t)

	first, err := store.Upsert(testSubscription("user-1", "https://push.example.com/send/old"))
	require.NoError(t, err)

	second, err := store.Upsert(testSubscription("user-1", "https://push.example.com/send/new"))
	require.NoError(t, err)
	assert.Equal(t, first, second, "re-registration keeps the row")

	found, err := store.Find("user-1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "https://push.example.com/send/new", found.Endpoint)

	count, err := store.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestStoreFindMissing(t *testing.T) {
	store := newTestStore(t)

	found, err := store.Find("nobody")
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestStoreKeylessSubscription(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Upsert(subscription.Subscription{
		SubscriberID: "user-1",
		Endpoint:     "https://push.example.com/send/abc",
	})
	require.NoError(t, err)

	found, err := store.Find("user-1")
	require.NoError(t, err)
	require.NotNil(t, found)

	assert.False(t, found.HasKeys())
	assert.Empty(t, found.P256dh)
	assert.Empty(t, found.Auth)
	assert.Empty(t, found.UserAgent)
}

func TestStoreRemove(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Upsert(testSubscription("user-1", "https://push.example.com/send/abc"))
	require.NoError(t, err)

	require.NoError(t, store.Remove("user-1"))

	found, err := store.Find("user-1")
	require.NoError(t, err)
	assert.Nil(t, found)

	// Removing an unknown subscriber is not an error.
	require.NoError(t, store.Remove("nobody"))
}

func TestStoreRemoveByEndpoint(t *testing.T) {
	store := newTestStore(t)

	expired := "https://push.example.com/send/expired"
	_, err := store.Upsert(testSubscription("user-1", expired))
	require.NoError(t, err)
	_, err = store.Upsert(testSubscription("user-2", expired))
	require.NoError(t, err)
	_, err = store.Upsert(testSubscription("user-3", "https://push.example.com/send/live"))
	require.NoError(t, err)

	require.NoError(t, store.RemoveByEndpoint(expired))

	count, err := store.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	found, err := store.Find("user-3")
	require.NoError(t, err)
	assert.NotNil(t, found)
}

func TestStoreAll(t *testing.T) {
	store := newTestStore(t)

	all, err := store.All()
	require.NoError(t, err)
	assert.Empty(t, all)

	for _, id := range []string{"user-1", "user-2", "user-3"} {
		_, err := store.Upsert(testSubscription(id, "https://push.example.com/send/"+id))
		require.NoError(t, err)
	}

	all, err = store.All()
	require.NoError(t, err)
	require.Len(t, all, 3)

	seen := make(map[string]bool)
	for _, sub := range all {
		seen[sub.SubscriberID] = true
	}
	assert.True(t, seen["user-1"] && seen["user-2"] && seen["user-3"])
}

func TestStoreCreatesDataDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "data", "subscribers.db")

	store, err := subscription.NewStore(dbPath)
	require.NoError(t, err)
	defer store.Close()

	_, err = os.Stat(filepath.Dir(dbPath))
	require.NoError(t, err)
}
