package store

import (
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carnamapa/carnamapa/internal/model"
)

func resolvedEvent(id string) *model.Event {
	e := &model.Event{ID: id, Name: "Bloco " + id, City: "Salvador", Neighborhood: "Centro", IsFree: true}
	e.SetCoordinates(-38.51, -12.97)
	return e
}

func unresolvedEvent(id string) *model.Event {
	e := &model.Event{ID: id, Name: "Bloco " + id, City: "Salvador", Neighborhood: "Centro", IsFree: true}
	e.MarkUnresolved("Centro, Salvador, Brazil")
	return e
}

func TestStore_LoadMissingFile(t *testing.T) {
	s := New(t.TempDir())
	col, err := s.Load("salvador")
	require.NoError(t, err)
	assert.Nil(t, col)
}

func TestStore_SaveAndLoad(t *testing.T) {
	s := New(t.TempDir())
	require.NoError(t, s.Save("Salvador", "salvador", []*model.Event{resolvedEvent("a"), unresolvedEvent("b")}))

	col, err := s.Load("salvador")
	require.NoError(t, err)
	require.NotNil(t, col)
	assert.Equal(t, "FeatureCollection", col.Type)
	assert.Equal(t, "Salvador", col.Metadata.City)
	assert.Equal(t, 2, col.Metadata.TotalBlocks)
	require.Len(t, col.Features, 2)
	assert.True(t, col.Features[0].HasCoordinates())
	assert.False(t, col.Features[1].HasCoordinates())
}

func TestStore_SaveProducesValidGeoJSON(t *testing.T) {
	s := New(t.TempDir())
	require.NoError(t, s.Save("Salvador", "salvador", []*model.Event{unresolvedEvent("a")}))

	raw, err := os.ReadFile(s.Path("salvador"))
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	features := doc["features"].([]any)
	geo := features[0].(map[string]any)["geometry"].(map[string]any)
	assert.Equal(t, "Point", geo["type"])
	assert.Nil(t, geo["coordinates"])
}

func TestStore_ResolvedIDs(t *testing.T) {
	s := New(t.TempDir())
	require.NoError(t, s.Save("Salvador", "salvador", []*model.Event{
		resolvedEvent("done"), unresolvedEvent("pending"),
	}))

	ids := s.ResolvedIDs("salvador")
	assert.Contains(t, ids, "done")
	assert.NotContains(t, ids, "pending")
}

func TestStore_ResolvedIDs_ToleratesMissingAndCorrupt(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	assert.Empty(t, s.ResolvedIDs("never-scraped"))

	require.NoError(t, os.WriteFile(s.Path("broken"), []byte("{oops"), 0o644))
	assert.Empty(t, s.ResolvedIDs("broken"))
}

func TestStore_Merge_UpsertsByID(t *testing.T) {
	s := New(t.TempDir())
	require.NoError(t, s.Save("Salvador", "salvador", []*model.Event{
		resolvedEvent("keep"), unresolvedEvent("update"),
	}))

	incoming := resolvedEvent("update")
	fresh := unresolvedEvent("new")
	merged, err := s.Merge("Salvador", "salvador", []*model.Event{incoming, fresh})
	require.NoError(t, err)

	require.Len(t, merged, 3)
	assert.Equal(t, "keep", merged[0].ID, "existing records keep their position")
	assert.Equal(t, "update", merged[1].ID)
	assert.True(t, merged[1].HasCoordinates(), "incoming event replaces the stale record")
	assert.Equal(t, "new", merged[2].ID)

	col, err := s.Load("salvador")
	require.NoError(t, err)
	assert.Equal(t, 3, col.Metadata.TotalBlocks)
}

func TestStore_Merge_NoExistingFile(t *testing.T) {
	s := New(t.TempDir())
	merged, err := s.Merge("Salvador", "salvador", []*model.Event{unresolvedEvent("a")})
	require.NoError(t, err)
	assert.Len(t, merged, 1)
}
