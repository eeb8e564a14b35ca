package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenCreatesDataDir(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	defer s.Close()

	abs, err := filepath.Abs(dir)
	require.NoError(t, err)
	assert.Equal(t, abs, s.Dir())
	assert.FileExists(t, filepath.Join(abs, DataDir, "library.db"))
}

func TestAddEntry(t *testing.T) {
	s := newTestStore(t)

	e, err := s.AddEntry(filepath.Join("photos", "..", "photos", "a.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "photos/a.jpg", e.Path)
	assert.Equal(t, "a", e.Stem())

	again, err := s.AddEntry("photos/a.jpg")
	require.NoError(t, err)
	assert.Equal(t, e.ID, again.ID, "adding the same path twice returns the existing entry")

	_, err = s.AddEntry("")
	assert.Error(t, err)

	all, err := s.AllEntries()
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestEntryLookups(t *testing.T) {
	s := newTestStore(t)
	for _, p := range []string{"b.jpg", "a.jpg", "dir/c_1.png", "dir/c%2.png"} {
		_, err := s.AddEntry(p)
		require.NoError(t, err)
	}

	page, err := s.ListEntries(2, 1)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "b.jpg", page[0].Path)
	assert.Equal(t, "dir/c%2.png", page[1].Path)

	found, err := s.SearchEntries("c_")
	require.NoError(t, err)
	require.Len(t, found, 1, "LIKE wildcards in the query are literal")
	assert.Equal(t, "dir/c_1.png", found[0].Path)

	byPrefix, err := s.FindEntryByPrefix(found[0].ID[:8])
	require.NoError(t, err)
	assert.Equal(t, found[0].ID, byPrefix.ID)

	_, err = s.FindEntryByPrefix("zzzz")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.GetEntry("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTags(t *testing.T) {
	s := newTestStore(t)

	animals, err := s.CreateTag("Animals", nil)
	require.NoError(t, err)
	dogs, err := s.CreateTag(" Dogs ", &animals.ID)
	require.NoError(t, err)
	assert.Equal(t, "Dogs", dogs.Name)
	require.NoError(t, s.AddAlias(dogs.ID, "canine"))
	require.NoError(t, s.AddAlias(dogs.ID, "canine"))

	_, err = s.CreateTag("  ", nil)
	assert.Error(t, err)

	t.Run("find by name ignores case", func(t *testing.T) {
		tag, err := s.FindTag("ANIMALS")
		require.NoError(t, err)
		assert.Equal(t, animals.ID, tag.ID)
	})

	t.Run("find by alias", func(t *testing.T) {
		tag, err := s.FindTag("Canine")
		require.NoError(t, err)
		assert.Equal(t, dogs.ID, tag.ID)
		require.NotNil(t, tag.ParentID)
		assert.Equal(t, animals.ID, *tag.ParentID)
	})

	t.Run("not found", func(t *testing.T) {
		_, err := s.FindTag("cats")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("get or create reuses", func(t *testing.T) {
		tag, err := s.GetOrCreateTag("dogs", nil)
		require.NoError(t, err)
		assert.Equal(t, dogs.ID, tag.ID)

		cats, err := s.GetOrCreateTag("Cats", &animals.ID)
		require.NoError(t, err)
		assert.NotEqual(t, dogs.ID, cats.ID)
	})

	t.Run("duplicate under the same parent", func(t *testing.T) {
		_, err := s.CreateTag("animals", nil)
		assert.ErrorIs(t, err, ErrTagExists)
		_, err = s.CreateTag("DOGS", &animals.ID)
		assert.ErrorIs(t, err, ErrTagExists)
	})

	t.Run("list includes aliases", func(t *testing.T) {
		tags, err := s.ListTags()
		require.NoError(t, err)
		require.Len(t, tags, 3)
		assert.Equal(t, []string{"Animals", "Cats", "Dogs"}, []string{tags[0].Name, tags[1].Name, tags[2].Name})
		assert.Equal(t, []string{"canine"}, tags[2].Aliases)
	})
}

func TestEntryTags(t *testing.T) {
	s := newTestStore(t)

	e, err := s.AddEntry("a.jpg")
	require.NoError(t, err)
	tag, err := s.CreateTag("sunset", nil)
	require.NoError(t, err)

	has, err := s.HasEntryTag(e.ID, tag.ID)
	require.NoError(t, err)
	assert.False(t, has)

	linked, err := s.LinkEntryTag(e.ID, tag.ID, "sidecar")
	require.NoError(t, err)
	assert.True(t, linked)
	linked, err = s.LinkEntryTag(e.ID, tag.ID, "embedded")
	require.NoError(t, err)
	assert.False(t, linked, "an existing link is left alone")

	has, err = s.HasEntryTag(e.ID, tag.ID)
	require.NoError(t, err)
	assert.True(t, has)

	full, err := s.GetEntry(e.ID)
	require.NoError(t, err)
	require.Len(t, full.Tags, 1)
	assert.Equal(t, "sunset", full.Tags[0].Name)
}

func TestNewInMemory(t *testing.T) {
	s, err := New(":memory:")
	require.NoError(t, err)
	defer s.Close()

	_, err = s.AddEntry("x.jpg")
	require.NoError(t, err)
	all, err := s.AllEntries()
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
