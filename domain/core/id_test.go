package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestNewRunID_Unique(t *testing.T) {
	seen := make(map[RunID]bool, 1000)
	for i := 0; i < 1000; i++ {
		id := NewRunID()
		require.False(t, ID(id).IsEmpty())
		require.False(t, seen[id], "duplicate run ID %s", id)
		seen[id] = true
	}
}

func TestHashOfStrings_OrderInsensitive(t *testing.T) {
	a := HashOfStrings([]string{"arvis_3", "arvis_1", "arvis_2"})
	b := HashOfStrings([]string{"arvis_1", "arvis_2", "arvis_3"})
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, HashOfStrings([]string{"arvis_1", "arvis_2"}))
	assert.Len(t, a.Short(), 12)
	assert.Equal(t, "abc", Hash("abc").Short())
}

func TestTimestamp_YAMLRoundTrip(t *testing.T) {
	in := struct {
		CreatedAt Timestamp `yaml:"created_at"`
	}{CreatedAt: Timestamp(time.Date(2020, 4, 15, 9, 30, 0, 0, time.UTC))}

	b, err := yaml.Marshal(in)
	require.NoError(t, err)
	assert.Contains(t, string(b), "2020-04-15T09:30:00Z")

	var out struct {
		CreatedAt Timestamp `yaml:"created_at"`
	}
	require.NoError(t, yaml.Unmarshal(b, &out))
	assert.True(t, in.CreatedAt.Time().Equal(out.CreatedAt.Time()))
	assert.Error(t, yaml.Unmarshal([]byte("created_at: yesterday"), &out))
}
