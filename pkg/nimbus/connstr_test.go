package nimbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConnectionStringBasic(t *testing.T) {
	cs, err := ParseConnectionString("couchbase://node1,node2:11210/travel-sample?kv_timeout=5000&compression=false")
	require.NoError(t, err)

	assert.False(t, cs.TLS)
	assert.Equal(t, []string{"node1", "node2:11210"}, cs.Hosts)
	assert.Equal(t, "travel-sample", cs.Bucket)
	assert.Equal(t, 5*time.Second, cs.DurationOption("kv_timeout", 0))
	assert.False(t, cs.BoolOption("compression", true))
}

func TestParseConnectionStringTLS(t *testing.T) {
	cs, err := ParseConnectionString("couchbases://node1")
	require.NoError(t, err)
	assert.True(t, cs.TLS)
	assert.Equal(t, []string{"node1"}, cs.Hosts)
	assert.Equal(t, "", cs.Bucket)
}

func TestParseConnectionStringNoBucketWithOptions(t *testing.T) {
	cs, err := ParseConnectionString("couchbase://node1?network=external")
	require.NoError(t, err)
	assert.Equal(t, "", cs.Bucket)
	assert.Equal(t, "external", cs.StringOption("network", "default"))
}

func TestParseConnectionStringRejectsUnknownScheme(t *testing.T) {
	_, err := ParseConnectionString("http://node1")
	assert.Error(t, err)
}

func TestParseConnectionStringRejectsEmptyHost(t *testing.T) {
	_, err := ParseConnectionString("couchbase://")
	assert.Error(t, err)
}

func TestIsSRVCandidate(t *testing.T) {
	single, err := ParseConnectionString("couchbase://node1")
	require.NoError(t, err)
	assert.True(t, single.IsSRVCandidate())

	withPort, err := ParseConnectionString("couchbase://node1:11210")
	require.NoError(t, err)
	assert.False(t, withPort.IsSRVCandidate())

	multi, err := ParseConnectionString("couchbase://node1,node2")
	require.NoError(t, err)
	assert.False(t, multi.IsSRVCandidate())
}

func TestConnectionStringTypedOptionDefaults(t *testing.T) {
	cs, err := ParseConnectionString("couchbase://node1?compression_min_ratio=0.5&compression_min_size=64")
	require.NoError(t, err)

	assert.Equal(t, 0.5, cs.FloatOption("compression_min_ratio", 0.83))
	assert.Equal(t, 64, cs.IntOption("compression_min_size", 32))
	assert.Equal(t, "fallback", cs.StringOption("missing", "fallback"))
	assert.Equal(t, true, cs.BoolOption("missing_bool", true))
	assert.Equal(t, time.Second, cs.DurationOption("missing_duration", time.Second))
}
