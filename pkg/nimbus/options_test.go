package nimbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultClusterOptionsTimeoutRange(t *testing.T) {
	o := DefaultClusterOptions()
	assert.Equal(t, 2500*time.Millisecond, o.KVTimeout)
	assert.Equal(t, 75*time.Second, o.QueryTimeout)
	assert.True(t, o.Compression)
	assert.Equal(t, 32, o.CompressionMinSize)
	assert.Equal(t, 0.83, o.CompressionMinRatio)
}

func TestWithDefaultsFillsOnlyZeroFields(t *testing.T) {
	o := ClusterOptions{KVTimeout: 9 * time.Second}
	filled := o.withDefaults()

	assert.Equal(t, 9*time.Second, filled.KVTimeout, "explicit value must survive")
	assert.Equal(t, DefaultClusterOptions().QueryTimeout, filled.QueryTimeout)
	assert.Equal(t, DefaultClusterOptions().BreakerConfig, filled.BreakerConfig)
}

func TestApplyConnectionStringOverridesTimeouts(t *testing.T) {
	cs, err := ParseConnectionString("couchbase://node1?kv_timeout=1000&enable_mutation_tokens=false&compression_min_size=99")
	require.NoError(t, err)

	o := DefaultClusterOptions().ApplyConnectionString(cs)
	assert.Equal(t, time.Second, o.KVTimeout)
	assert.False(t, o.EnableMutationTokens)
	assert.Equal(t, 99, o.CompressionMinSize)
	// Untouched option keeps its prior value.
	assert.Equal(t, DefaultClusterOptions().QueryTimeout, o.QueryTimeout)
}

func TestWanDevelopmentProfile(t *testing.T) {
	o := DefaultClusterOptions()
	require.NoError(t, ApplyProfile("wan_development", &o))

	assert.Equal(t, 20*time.Second, o.KVTimeout)
	assert.Equal(t, 2*time.Minute, o.QueryTimeout)
}

func TestApplyProfileUnknownName(t *testing.T) {
	o := DefaultClusterOptions()
	err := ApplyProfile("does-not-exist", &o)
	assert.Error(t, err)
}

func TestRegisterProfileOverridesBuiltin(t *testing.T) {
	RegisterProfile("wan_development", func(o *ClusterOptions) {
		o.KVTimeout = 42 * time.Second
	})
	defer RegisterProfile("wan_development", wanDevelopmentProfile)

	o := DefaultClusterOptions()
	require.NoError(t, ApplyProfile("wan_development", &o))
	assert.Equal(t, 42*time.Second, o.KVTimeout)
}
