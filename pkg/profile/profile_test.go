package profile

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/algo-boyz/speakerprint/pkg/embedding"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()
	db, err := OpenBadger(BadgerOptions{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, db.Close()) })
	return map[string]Store{"memory": NewMemory(), "badger": db}
}

func TestStoreCRUD(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			alice, err := New("alice", embedding.Embedding{1, 0, 0}, embedding.Embedding{0.9, 0.1, 0})
			require.NoError(t, err)
			require.NoError(t, s.Put(ctx, alice))

			got, err := s.Get(ctx, alice.ID)
			require.NoError(t, err)
			assert.Equal(t, alice.ID, got.ID)
			assert.Equal(t, "alice", got.Name)
			assert.Equal(t, alice.Embeddings, got.Embeddings)
			assert.True(t, alice.CreatedAt.Equal(got.CreatedAt))

			bob, err := New("bob", embedding.Embedding{0, 1, 0})
			require.NoError(t, err)
			require.NoError(t, s.Put(ctx, bob))

			all, err := s.List(ctx)
			require.NoError(t, err)
			require.Len(t, all, 2)
			assert.Equal(t, "alice", all[0].Name)
			assert.Equal(t, "bob", all[1].Name)

			impostor, err := New("Alice")
			require.NoError(t, err)
			require.ErrorIs(t, s.Put(ctx, impostor), ErrNameTaken)

			require.NoError(t, s.Delete(ctx, bob.ID))
			_, err = s.Get(ctx, bob.ID)
			require.ErrorIs(t, err, ErrNotFound)
			require.ErrorIs(t, s.Delete(ctx, bob.ID), ErrNotFound)
			_, err = s.Get(ctx, uuid.New())
			require.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			p, err := New("carol", embedding.Embedding{1, 2})
			require.NoError(t, err)
			require.NoError(t, s.Put(ctx, p))
			p.Embeddings[0][0] = 99

			got, err := s.Get(ctx, p.ID)
			require.NoError(t, err)
			require.Equal(t, float32(1), got.Embeddings[0][0])
		})
	}
}

func TestEnrollAppendsToExistingProfile(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			first, err := Enroll(ctx, s, "dave", embedding.Embedding{1, 0})
			require.NoError(t, err)
			second, err := Enroll(ctx, s, " Dave ", embedding.Embedding{0.8, 0.2})
			require.NoError(t, err)
			require.Equal(t, first.ID, second.ID)
			require.Len(t, second.Embeddings, 2)

			_, err = Enroll(ctx, s, "dave", embedding.Embedding{1, 0, 0})
			require.ErrorIs(t, err, embedding.ErrDimensionMismatch)

			found, err := FindByName(ctx, s, "DAVE")
			require.NoError(t, err)
			require.Len(t, found.Embeddings, 2)
		})
	}
}

// racingStore lets another enrollment create the same name just before the
// first Put lands.
type racingStore struct {
	Store
	raced bool
}

func (r *racingStore) Put(ctx context.Context, p Profile) error {
	if !r.raced {
		r.raced = true
		rival, err := New(p.Name, embedding.Embedding{0, 1})
		if err != nil {
			return err
		}
		if err = r.Store.Put(ctx, rival); err != nil {
			return err
		}
	}
	return r.Store.Put(ctx, p)
}

func TestEnrollRetriesWhenNameIsTakenConcurrently(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			p, err := Enroll(ctx, &racingStore{Store: s}, "erin", embedding.Embedding{1, 0})
			require.NoError(t, err)
			require.Len(t, p.Embeddings, 2)

			all, err := s.List(ctx)
			require.NoError(t, err)
			require.Len(t, all, 1)
			require.Equal(t, p.ID, all[0].ID)
		})
	}
}

func TestConcurrentEnrollOfNewName(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			var g errgroup.Group
			for i := 0; i < 8; i++ {
				g.Go(func() error {
					_, err := Enroll(ctx, s, "frank", embedding.Embedding{1, float32(i)})
					return err
				})
			}
			require.NoError(t, g.Wait())

			all, err := s.List(ctx)
			require.NoError(t, err)
			require.Len(t, all, 1)
			require.NotEmpty(t, all[0].Embeddings)
		})
	}
}

func TestIdentifyRanksProfiles(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	for _, p := range []struct {
		name string
		emb  embedding.Embedding
	}{
		{"north", embedding.Embedding{0, 1, 0}},
		{"east", embedding.Embedding{1, 0, 0}},
		{"northeast", embedding.Embedding{1, 1, 0}},
		{"wide", embedding.Embedding{1, 1, 0, 0}},
	} {
		_, err := Enroll(ctx, s, p.name, p.emb)
		require.NoError(t, err)
	}

	matches, err := Identify(ctx, s, embedding.NewComparator(embedding.DefaultThresholds()), embedding.Embedding{2, 0.1, 0})
	require.NoError(t, err)
	require.Len(t, matches, 3)
	assert.Equal(t, "east", matches[0].Profile.Name)
	assert.Equal(t, embedding.SameSpeaker, matches[0].Label)
	assert.Equal(t, "northeast", matches[1].Profile.Name)
	assert.Equal(t, "north", matches[2].Profile.Name)
	assert.Equal(t, embedding.DifferentSpeakers, matches[2].Label)

	_, err = Identify(ctx, s, embedding.NewComparator(embedding.DefaultThresholds()), embedding.Embedding{1, 2})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestReferencesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ref.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"embeddings": [[1, 0, 0], [0.6, 0.8, 0]]}`), 0o644))

	refs, err := LoadReferences(path)
	require.NoError(t, err)
	require.Len(t, refs, 2)

	c := embedding.NewComparator(embedding.DefaultThresholds())
	best, idx, err := BestReference(c, refs, embedding.Embedding{0, 1, 0})
	require.NoError(t, err)
	assert.Equal(t, 1, idx)
	assert.InDelta(t, 0.8, best.Similarity, 1e-6)
	assert.Equal(t, embedding.SameSpeaker, best.Label)

	p, err := New("reference", refs...)
	require.NoError(t, err)
	assert.Len(t, p.Embeddings, 2)

	require.NoError(t, os.WriteFile(path, []byte(`{"embeddings": []}`), 0o644))
	_, err = LoadReferences(path)
	require.Error(t, err)
}

func TestWriteReferencesRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	written := []embedding.Embedding{{0.5, -0.25}, {1, 0}}
	require.NoError(t, WriteReferences(&buf, written))

	path := filepath.Join(t.TempDir(), "out.json")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	refs, err := LoadReferences(path)
	require.NoError(t, err)
	assert.Equal(t, written, refs)
}

func TestBadgerPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	db, err := OpenBadger(BadgerOptions{Dir: dir})
	require.NoError(t, err)
	p, err := Enroll(ctx, db, "erin", embedding.Embedding{0.1, 0.2, 0.3})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = OpenBadger(BadgerOptions{Dir: dir})
	require.NoError(t, err)
	defer db.Close()
	got, err := db.Get(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, p.Embeddings, got.Embeddings)

	_, err = OpenBadger(BadgerOptions{})
	require.Error(t, err)
}

func TestNewRejectsEmptyName(t *testing.T) {
	_, err := New("  ")
	require.Error(t, err)
}
