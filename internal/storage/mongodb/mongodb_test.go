//go:build integration

package mongodb

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcmongo "github.com/testcontainers/testcontainers-go/modules/mongodb"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/xenking/cloud-kitchen/internal/domain/address"
	"github.com/xenking/cloud-kitchen/internal/domain/order"
	"github.com/xenking/cloud-kitchen/internal/domain/payment"
)

func setupDB(t *testing.T) *mongo.Database {
	t.Helper()
	ctx := context.Background()

	container, err := tcmongo.Run(ctx, "mongo:7")
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("terminate container: %s", err)
		}
	})

	uri, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	client, err := Connect(ctx, uri)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Disconnect(context.Background()) })

	db := client.Database("kitchen_test")
	require.NoError(t, EnsureIndexes(ctx, db))
	return db
}

func newOrder(id, owner string) *order.Order {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &order.Order{
		ID:      id,
		OwnerID: owner,
		Items: []order.LineItem{
			{ProductID: "p1", Name: "Ramen", Quantity: 2, Price: decimal.RequireFromString("12.50")},
		},
		TotalItems:    2,
		TotalPrice:    decimal.RequireFromString("25.00"),
		AddressID:     "a1",
		PaymentMethod: payment.MethodStripe,
		Status:        order.StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func TestOrderRepository(t *testing.T) {
	db := setupDB(t)
	repo := NewOrderRepository(db)
	ctx := context.Background()

	o := newOrder("o1", "alice")
	require.NoError(t, repo.Create(ctx, o))

	got, err := repo.FindByID(ctx, "o1", "alice")
	require.NoError(t, err)
	assert.True(t, got.TotalPrice.Equal(o.TotalPrice))
	assert.True(t, got.Items[0].Price.Equal(decimal.RequireFromString("12.5")))
	assert.Equal(t, order.StatusPending, got.Status)

	_, err = repo.FindByID(ctx, "o1", "bob")
	assert.ErrorIs(t, err, order.ErrNotFound)

	later := newOrder("o2", "alice")
	later.CreatedAt = later.CreatedAt.Add(time.Minute)
	require.NoError(t, repo.Create(ctx, later))

	list, err := repo.ListByOwner(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "o2", list[0].ID)
}

func TestOrderRepository_PaymentIntent(t *testing.T) {
	db := setupDB(t)
	repo := NewOrderRepository(db)
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, newOrder("o1", "alice")))

	assert.ErrorIs(t, repo.SetPaymentIntent(ctx, "o1", "bob", "pi_1"), order.ErrNotFound)
	require.NoError(t, repo.SetPaymentIntent(ctx, "o1", "alice", "pi_1"))
	assert.ErrorIs(t, repo.SetPaymentIntent(ctx, "o1", "alice", "pi_2"), order.ErrIntentAlreadySet)

	_, err := repo.UpdateStatusByIntent(ctx, "pi_unknown", order.StatusPaid, order.StatusPending)
	assert.ErrorIs(t, err, order.ErrNotFound)

	updated, err := repo.UpdateStatusByIntent(ctx, "pi_1", order.StatusPaid, order.StatusPending, order.StatusPaymentFailed)
	require.NoError(t, err)
	assert.Equal(t, order.StatusPaid, updated.Status)

	_, err = repo.UpdateStatusByIntent(ctx, "pi_1", order.StatusPaymentFailed, order.StatusPending)
	assert.ErrorIs(t, err, order.ErrStatusConflict)
}

func TestAddressBookRepository(t *testing.T) {
	db := setupDB(t)
	repo := NewAddressBookRepository(db)
	ctx := context.Background()

	book, err := repo.Load(ctx, "alice")
	require.NoError(t, err)
	assert.Zero(t, book.Version)

	book.Add(address.Address{ID: "a1", Street: "1 Main St", City: "Springfield", Zip: "12345", Country: "US"})
	require.NoError(t, repo.Save(ctx, book))
	assert.Equal(t, int64(1), book.Version)

	stale, err := repo.Load(ctx, "alice")
	require.NoError(t, err)

	book.Add(address.Address{ID: "a2", Street: "9 Office Rd", City: "Springfield", Zip: "12346", Country: "US"})
	require.NoError(t, repo.Save(ctx, book))

	stale.Addresses = nil
	assert.ErrorIs(t, repo.Save(ctx, stale), address.ErrVersionConflict)

	loaded, err := repo.Load(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, loaded.Addresses, 2)
	assert.True(t, loaded.Addresses[0].IsDefault)
	assert.Equal(t, "alice", loaded.Addresses[1].OwnerID)
}

func TestAddressService_ConcurrentDeletesKeepOneDefault(t *testing.T) {
	db := setupDB(t)
	svc := address.NewService(NewAddressBookRepository(db))
	ctx := context.Background()

	var ids []string
	for _, street := range []string{"1 Main St", "2 Main St", "3 Main St", "4 Main St"} {
		a, err := svc.Create(ctx, "alice", address.Fields{Street: street, City: "Springfield", Zip: "12345", Country: "US"})
		require.NoError(t, err)
		ids = append(ids, a.ID)
	}

	var wg sync.WaitGroup
	for _, id := range ids[:2] {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, svc.Delete(ctx, "alice", id))
		}()
	}
	wg.Wait()

	left, err := svc.List(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, left, 2)
	defaults := 0
	for _, a := range left {
		if a.IsDefault {
			defaults++
		}
	}
	assert.Equal(t, 1, defaults)
}
