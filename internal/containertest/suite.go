// Package containertest is the behavioral contract every container backend
// has to pass. Backend tests call Run with a factory for a fresh backend.
package containertest

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/suite"
	"golang.org/x/sync/errgroup"

	"github.com/friflo/fliox.go/pkg/constants"
	"github.com/friflo/fliox.go/pkg/container"
	"github.com/friflo/fliox.go/pkg/filter"
	"github.com/friflo/fliox.go/pkg/models"
)

// Factory returns an empty backend. It is called once per test.
type Factory func(t *testing.T) container.Backend

// Run executes the contract suite against the backends created by newBackend.
func Run(t *testing.T, newBackend Factory) {
	t.Helper()
	suite.Run(t, &Suite{NewBackend: newBackend})
}

type Suite struct {
	suite.Suite

	NewBackend Factory

	ctx     context.Context
	backend container.Backend
}

func (s *Suite) SetupTest() {
	s.ctx = context.Background()
	s.backend = s.NewBackend(s.T())
}

func (s *Suite) TearDownTest() {
	s.Require().NoError(s.backend.Close())
}

func (s *Suite) open(name string) container.Container {
	c, err := s.backend.Open(s.ctx, name)
	s.Require().NoError(err)
	return c
}

// requireDoc compares documents by their JSON form, so json.Number and
// native numbers returned by different backends compare equal.
func (s *Suite) requireDoc(expected, actual models.Document) {
	s.T().Helper()
	want, err := json.Marshal(expected)
	s.Require().NoError(err)
	got, err := json.Marshal(actual)
	s.Require().NoError(err)
	s.Require().JSONEq(string(want), string(got))
}

func keysOf(entries []container.Entry) []models.EntityKey {
	keys := make([]models.EntityKey, len(entries))
	for i, e := range entries {
		keys[i] = e.Key
	}
	return keys
}

func (s *Suite) TestCreateGet() {
	c := s.open("articles")
	doc := models.Document{
		"name":  "Galaxy S10",
		"price": 199.5,
		"tags":  []any{"phone", "android"},
		"maker": map[string]any{"name": "Samsung"},
	}
	s.Require().NoError(c.Create(s.ctx, models.IntKey(1), doc))

	got, err := c.Get(s.ctx, models.IntKey(1))
	s.Require().NoError(err)
	s.requireDoc(doc, got)
}

func (s *Suite) TestGet_notFound() {
	c := s.open("articles")
	_, err := c.Get(s.ctx, models.IntKey(404))
	s.Require().ErrorIs(err, constants.ErrNotFound)
}

func (s *Suite) TestCreate_duplicate() {
	c := s.open("articles")
	original := models.Document{"name": "original"}
	s.Require().NoError(c.Create(s.ctx, models.StringKey("a"), original))

	err := c.Create(s.ctx, models.StringKey("a"), models.Document{"name": "other"})
	s.Require().ErrorIs(err, constants.ErrDuplicateKey)

	got, err := c.Get(s.ctx, models.StringKey("a"))
	s.Require().NoError(err)
	s.requireDoc(original, got)

	n, err := c.Count(s.ctx, nil)
	s.Require().NoError(err)
	s.Require().Equal(1, n)
}

func (s *Suite) TestKeyVariants_distinct() {
	c := s.open("articles")
	s.Require().NoError(c.Create(s.ctx, models.IntKey(12), models.Document{"v": "number"}))
	s.Require().NoError(c.Create(s.ctx, models.StringKey("12"), models.Document{"v": "string"}))
	s.Require().NoError(c.Create(s.ctx, models.StringKey("a/b c"), models.Document{"v": "escaped"}))

	got, err := c.Get(s.ctx, models.IntKey(12))
	s.Require().NoError(err)
	s.Require().Equal("number", got["v"])

	got, err = c.Get(s.ctx, models.StringKey("12"))
	s.Require().NoError(err)
	s.Require().Equal("string", got["v"])

	entries, err := c.Query(s.ctx, nil)
	s.Require().NoError(err)
	s.Require().ElementsMatch(
		[]models.EntityKey{models.IntKey(12), models.StringKey("12"), models.StringKey("a/b c")},
		keysOf(entries))
}

func (s *Suite) TestUpsert() {
	c := s.open("articles")
	s.Require().NoError(c.Upsert(s.ctx, models.IntKey(1), models.Document{"name": "first", "stock": 1}))
	s.Require().NoError(c.Upsert(s.ctx, models.IntKey(2), models.Document{"name": "second"}))
	s.Require().NoError(c.Upsert(s.ctx, models.IntKey(1), models.Document{"name": "replaced"}))

	got, err := c.Get(s.ctx, models.IntKey(1))
	s.Require().NoError(err)
	s.requireDoc(models.Document{"name": "replaced"}, got)

	entries, err := c.Query(s.ctx, nil)
	s.Require().NoError(err)
	s.Require().Equal([]models.EntityKey{models.IntKey(1), models.IntKey(2)}, keysOf(entries))
}

func (s *Suite) TestPatch() {
	c := s.open("articles")
	s.Require().NoError(c.Create(s.ctx, models.IntKey(1), models.Document{"name": "phone", "price": 10, "stock": 3}))

	merged, err := c.Patch(s.ctx, models.IntKey(1), models.Document{"price": 12, "color": "red"})
	s.Require().NoError(err)
	expected := models.Document{"name": "phone", "price": 12, "stock": 3, "color": "red"}
	s.requireDoc(expected, merged)

	got, err := c.Get(s.ctx, models.IntKey(1))
	s.Require().NoError(err)
	s.requireDoc(expected, got)
}

func (s *Suite) TestPatch_notFound() {
	c := s.open("articles")
	_, err := c.Patch(s.ctx, models.IntKey(1), models.Document{"price": 12})
	s.Require().ErrorIs(err, constants.ErrNotFound)

	n, err := c.Count(s.ctx, nil)
	s.Require().NoError(err)
	s.Require().Zero(n)
}

func (s *Suite) TestDelete_idempotent() {
	c := s.open("articles")
	s.Require().NoError(c.Create(s.ctx, models.IntKey(1), models.Document{"name": "a"}))
	s.Require().NoError(c.Create(s.ctx, models.IntKey(2), models.Document{"name": "b"}))

	existed, err := c.Delete(s.ctx, models.IntKey(1))
	s.Require().NoError(err)
	s.Require().True(existed)
	once, err := c.Query(s.ctx, nil)
	s.Require().NoError(err)

	existed, err = c.Delete(s.ctx, models.IntKey(1))
	s.Require().NoError(err)
	s.Require().False(existed)
	twice, err := c.Query(s.ctx, nil)
	s.Require().NoError(err)

	s.Require().Equal(keysOf(once), keysOf(twice))
	s.Require().Equal([]models.EntityKey{models.IntKey(2)}, keysOf(twice))

	existed, err = c.Delete(s.ctx, models.StringKey("never"))
	s.Require().NoError(err)
	s.Require().False(existed)
}

func (s *Suite) TestQuery_filter() {
	c := s.open("articles")
	const total = 20
	for i := 1; i <= total; i++ {
		doc := models.Document{"name": fmt.Sprintf("article-%d", i), "onSale": i%4 == 0}
		s.Require().NoError(c.Create(s.ctx, models.IntKey(int64(i)), doc))
	}
	prog := filter.MustCompile(filter.FieldEq("onSale", true))

	first, err := c.Query(s.ctx, prog)
	s.Require().NoError(err)
	s.Require().Len(first, total/4)
	for _, e := range first {
		s.Require().Equal(true, e.Doc["onSale"])
	}

	second, err := c.Query(s.ctx, prog)
	s.Require().NoError(err)
	s.Require().Equal(keysOf(first), keysOf(second))

	n, err := c.Count(s.ctx, prog)
	s.Require().NoError(err)
	s.Require().Equal(total/4, n)

	n, err = c.Count(s.ctx, nil)
	s.Require().NoError(err)
	s.Require().Equal(total, n)
}

func (s *Suite) TestQuery_empty() {
	c := s.open("articles")
	entries, err := c.Query(s.ctx, filter.MustCompile(filter.MustParse(`name == "x"`)))
	s.Require().NoError(err)
	s.Require().Empty(entries)
}

func (s *Suite) TestJobs() {
	c := s.open("jobs")
	s.Require().NoError(c.Create(s.ctx, models.IntKey(1), models.Document{"title": "a", "completed": false}))
	s.Require().NoError(c.Create(s.ctx, models.IntKey(2), models.Document{"title": "b", "completed": true}))

	done, err := c.Query(s.ctx, filter.MustCompile(filter.MustParse("completed == true")))
	s.Require().NoError(err)
	s.Require().Len(done, 1)
	s.Require().Equal(models.IntKey(2), done[0].Key)
	s.Require().Equal("b", done[0].Doc["title"])

	_, err = c.Delete(s.ctx, models.IntKey(1))
	s.Require().NoError(err)

	all, err := c.Query(s.ctx, nil)
	s.Require().NoError(err)
	s.Require().Len(all, 1)
	s.Require().Equal(models.IntKey(2), all[0].Key)
}

func (s *Suite) TestDocumentsNotShared() {
	c := s.open("articles")
	doc := models.Document{"name": "a", "tags": []any{"x"}}
	s.Require().NoError(c.Create(s.ctx, models.IntKey(1), doc))
	doc["name"] = "changed by caller"
	doc["tags"].([]any)[0] = "y"

	got, err := c.Get(s.ctx, models.IntKey(1))
	s.Require().NoError(err)
	got["name"] = "changed by reader"

	again, err := c.Get(s.ctx, models.IntKey(1))
	s.Require().NoError(err)
	s.requireDoc(models.Document{"name": "a", "tags": []any{"x"}}, again)
}

func (s *Suite) TestContainersIsolated() {
	a := s.open("a")
	b := s.open("b")
	s.Require().NoError(a.Create(s.ctx, models.IntKey(1), models.Document{"in": "a"}))

	_, err := b.Get(s.ctx, models.IntKey(1))
	s.Require().ErrorIs(err, constants.ErrNotFound)
	s.Require().NoError(b.Create(s.ctx, models.IntKey(1), models.Document{"in": "b"}))
}

func (s *Suite) TestOpen_twice() {
	first := s.open("articles")
	s.Require().NoError(first.Create(s.ctx, models.IntKey(1), models.Document{"name": "a"}))

	second := s.open("articles")
	got, err := second.Get(s.ctx, models.IntKey(1))
	s.Require().NoError(err)
	s.Require().Equal("a", got["name"])
}

func (s *Suite) TestOpen_invalidName() {
	for _, name := range []string{"", "1abc", "a-b", "../x", "a b"} {
		_, err := s.backend.Open(s.ctx, name)
		s.Require().ErrorIs(err, constants.ErrValidation, name)
	}
}

func (s *Suite) TestCancelledContext() {
	c := s.open("articles")
	ctx, cancel := context.WithCancel(s.ctx)
	cancel()

	_, err := c.Get(ctx, models.IntKey(1))
	s.Require().ErrorIs(err, constants.ErrTimeout)
	err = c.Create(ctx, models.IntKey(1), models.Document{})
	s.Require().ErrorIs(err, constants.ErrTimeout)
	_, err = c.Query(ctx, nil)
	s.Require().ErrorIs(err, constants.ErrTimeout)
}

func (s *Suite) TestConcurrentCreate() {
	c := s.open("articles")
	const writers = 8

	var g errgroup.Group
	results := make([]error, writers)
	for i := 0; i < writers; i++ {
		g.Go(func() error {
			results[i] = c.Create(s.ctx, models.IntKey(7), models.Document{"writer": i})
			return nil
		})
	}
	s.Require().NoError(g.Wait())

	created := 0
	for _, err := range results {
		switch {
		case err == nil:
			created++
		case errors.Is(err, constants.ErrDuplicateKey):
		default:
			s.Failf("unexpected error", "%v", err)
		}
	}
	s.Require().Equal(1, created)

	n, err := c.Count(s.ctx, nil)
	s.Require().NoError(err)
	s.Require().Equal(1, n)
}

func (s *Suite) TestConcurrentPatch() {
	c := s.open("articles")
	s.Require().NoError(c.Create(s.ctx, models.IntKey(1), models.Document{}))
	const writers = 8

	var g errgroup.Group
	for i := 0; i < writers; i++ {
		g.Go(func() error {
			_, err := c.Patch(s.ctx, models.IntKey(1), models.Document{fmt.Sprintf("f%d", i): i})
			return err
		})
	}
	s.Require().NoError(g.Wait())

	got, err := c.Get(s.ctx, models.IntKey(1))
	s.Require().NoError(err)
	s.Require().Len(got, writers)
}
