package bifaci

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManifestBuilder(t *testing.T) {
	m := NewManifest("pubchannel", "1.2.3", "bridge").
		WithAuthor("filegrind").
		WithPageUrl("https://example.com/pubchannel").
		WithEvents("onPageChanged").
		WithEvents("onTtsStateChanged")

	assert.Equal(t, "pubchannel", m.Name)
	require.NotNil(t, m.Author)
	assert.Equal(t, "filegrind", *m.Author)
	assert.Equal(t, []string{"onPageChanged", "onTtsStateChanged"}, m.Events)
	assert.Empty(t, m.Methods)
}

func TestManifestWithMethodsSortsWithoutMutating(t *testing.T) {
	m := NewManifest("pubchannel", "1.0.0", "bridge")
	methods := []string{"get", "closePublication", "openPublication"}

	data, err := m.withMethods(methods)
	require.NoError(t, err)
	assert.Empty(t, m.Methods, "the original manifest is left alone")
	assert.Equal(t, []string{"get", "closePublication", "openPublication"}, methods)

	parsed, err := ParseManifest(data)
	require.NoError(t, err)
	assert.Equal(t, []string{"closePublication", "get", "openPublication"}, parsed.Methods)
	assert.True(t, parsed.HasMethod("get"))
	assert.False(t, parsed.HasMethod("search"))

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.NotContains(t, raw, "author", "unset optional fields are omitted")
	assert.NotContains(t, raw, "events")
}

func TestParseManifestRejectsGarbage(t *testing.T) {
	_, err := ParseManifest([]byte("{not json"))
	assert.Error(t, err)
}
