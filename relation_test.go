package fliox_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fliox "github.com/friflo/fliox.go"
	"github.com/friflo/fliox.go/pkg/models"
)

type Customer struct {
	Name string `json:"name"`
}

type Order struct {
	Customer string   `json:"customer,omitempty"`
	Articles []string `json:"articles,omitempty"`
}

func customerOf(o fliox.Entity[int64, Order]) []string {
	if o.Value.Customer == "" {
		return nil
	}
	return []string{o.Value.Customer}
}

func TestResolve(t *testing.T) {
	ctx := context.Background()
	c := newClient(t)
	customers := fliox.NewContainer[string, Customer](c, "customers", models.StringCodec{})
	orders := fliox.NewContainer[int64, Order](c, "orders", models.IntCodec[int64]{})

	// c6 is referenced but does not exist
	for i := range 6 {
		id := fmt.Sprintf("c%d", i)
		customers.Create(id, Customer{Name: "customer " + id})
	}
	for i := range int64(100) {
		order := Order{Customer: fmt.Sprintf("c%d", i%7)}
		if i%10 == 0 {
			order.Customer = ""
		}
		orders.Create(i, order)
	}
	require.NoError(t, c.Sync(ctx))

	query := orders.QueryAll()
	require.NoError(t, c.Sync(ctx))
	require.Len(t, query.All(), 100)

	rel := fliox.Resolve(customers, query.All(), customerOf)
	require.Equal(t, 1, c.Pending())
	require.NotNil(t, rel.Task())
	assert.Len(t, rel.Task().Keys(), 7)
	require.NoError(t, c.Sync(ctx))
	require.NoError(t, rel.Err())

	relations := rel.Relations()
	require.Len(t, relations, 100)
	for i, r := range relations {
		id := int64(i)
		require.Equal(t, id, r.Source.Key)
		switch {
		case id%10 == 0:
			assert.Empty(t, r.Keys)
			assert.False(t, r.Resolved())
		case id%7 == 6:
			require.Equal(t, []string{"c6"}, r.Keys)
			assert.Nil(t, r.Targets[0])
			assert.False(t, r.Resolved())
		default:
			require.True(t, r.Resolved(), "order %d", id)
			assert.Equal(t, "customer "+r.Keys[0], r.Targets[0].Name)
		}
	}
}

func TestResolve_duplicateKeys(t *testing.T) {
	ctx := context.Background()
	c := newClient(t)
	customers := fliox.NewContainer[string, Customer](c, "customers", models.StringCodec{})
	customers.Create("a", Customer{Name: "A"})
	customers.Create("b", Customer{Name: "B"})
	require.NoError(t, c.Sync(ctx))

	sources := [][]string{{"a", "b", "a"}, {"b"}, {}}
	rel := fliox.Resolve(customers, sources, func(keys []string) []string { return keys })
	require.Equal(t, []string{"a", "b"}, rel.Task().Keys())
	require.NoError(t, c.Sync(ctx))

	relations := rel.Relations()
	require.Len(t, relations, 3)
	assert.Equal(t, []string{"a", "b", "a"}, relations[0].Keys)
	assert.Equal(t, []*Customer{{Name: "A"}, {Name: "B"}, {Name: "A"}}, relations[0].Targets)
	assert.True(t, relations[1].Resolved())
	assert.False(t, relations[2].Resolved())
}

func TestResolve_nullableKeys(t *testing.T) {
	ctx := context.Background()
	c := newClient(t)
	jobs := fliox.NewContainer[*int64, Job](c, "jobs", models.Nullable[int64](models.IntCodec[int64]{}))
	one := int64(1)
	jobs.Create(&one, Job{Title: "a"})
	require.NoError(t, c.Sync(ctx))

	sources := []*int64{nil, &one, nil}
	rel := fliox.Resolve(jobs, sources, func(key *int64) []*int64 { return []*int64{key} })
	require.Equal(t, 1, c.Pending())
	require.NoError(t, c.Sync(ctx))

	relations := rel.Relations()
	assert.Empty(t, relations[0].Keys)
	assert.True(t, relations[1].Resolved())
	assert.Equal(t, "a", relations[1].Targets[0].Title)
}

func TestResolve_empty(t *testing.T) {
	c := newClient(t)
	customers := fliox.NewContainer[string, Customer](c, "customers", models.StringCodec{})

	rel := fliox.Resolve(customers, []Order{}, func(o Order) []string { return []string{o.Customer} })

	assert.Nil(t, rel.Task())
	assert.Equal(t, 0, c.Pending())
	assert.NoError(t, rel.Err())
	assert.Empty(t, rel.Relations())
}
