package topology

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleConfig(rev uint64) *Config {
	return &Config{
		Revision: Revision{Epoch: 1, Rev: rev},
		Bucket:   "widgets",
		Nodes: []Node{
			{Hostname: "node1", Ports: map[Service]int{ServiceKV: 11210, ServiceQuery: 8093}},
			{Hostname: "node2", Ports: map[Service]int{ServiceKV: 11210, ServiceQuery: 8093}},
		},
		Vbuckets: VbucketMap{
			Active:   []int32{0, 1, 0, 1},
			Replicas: [][]int32{{1}, {0}, {1}, {0}},
		},
	}
}

func TestUpdateAppliesOnlyNewerRevision(t *testing.T) {
	topo := New("widgets")

	assert.True(t, topo.Update(sampleConfig(1)))
	assert.False(t, topo.Update(sampleConfig(1)), "duplicate revision must be rejected")
	assert.False(t, topo.Update(sampleConfig(0)), "stale revision must be rejected")
	assert.True(t, topo.Update(sampleConfig(2)))

	assert.Equal(t, uint64(2), topo.Current().Revision.Rev)
}

func TestWaitReadyBlocksUntilFirstConfig(t *testing.T) {
	topo := New("widgets")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, topo.WaitReady(ctx), "WaitReady must not return before any configuration is applied")

	topo.Update(sampleConfig(1))

	ctx2, cancel2 := context.WithTimeout(context.Background(), time.Second)
	defer cancel2()
	assert.NoError(t, topo.WaitReady(ctx2))
}

func TestVbucketRoutingIsPure(t *testing.T) {
	cfg := sampleConfig(1)

	key := []byte("widget::42")
	n1, vb1, err1 := cfg.NodeForKey(key)
	n2, vb2, err2 := cfg.NodeForKey(key)

	require.NoError(t, err1)
	require.NoError(t, err2)
	assert.Equal(t, vb1, vb2, "routing the same key twice must yield the same vbucket")
	assert.Equal(t, n1, n2, "routing the same key twice must yield the same node")
}

func TestVbucketForKeyDistributesAcrossRange(t *testing.T) {
	seen := make(map[int]bool)
	for i := 0; i < 1000; i++ {
		key := []byte{byte(i), byte(i >> 8)}
		vb := VbucketForKey(key, 1024)
		require.GreaterOrEqual(t, vb, 0)
		require.Less(t, vb, 1024)
		seen[vb] = true
	}
	assert.Greater(t, len(seen), 1, "1000 distinct keys should not all land on one vbucket")
}

func TestSelectEndpointRoundRobins(t *testing.T) {
	topo := New("widgets")
	topo.Update(sampleConfig(1))

	first, err := topo.SelectEndpoint(ServiceQuery)
	require.NoError(t, err)
	second, err := topo.SelectEndpoint(ServiceQuery)
	require.NoError(t, err)

	assert.NotEqual(t, first.Hostname, second.Hostname, "round robin over two nodes must alternate")
}

func TestSelectEndpointUnavailable(t *testing.T) {
	topo := New("widgets")
	topo.Update(sampleConfig(1))

	_, err := topo.SelectEndpoint(ServiceAnalytics)
	assert.ErrorIs(t, err, ErrServiceUnavailable)
}

func TestSubscribeReceivesUpdate(t *testing.T) {
	topo := New("widgets")
	ch := topo.Subscribe()
	defer topo.Unsubscribe(ch)

	topo.Update(sampleConfig(1))

	select {
	case cfg := <-ch:
		assert.Equal(t, uint64(1), cfg.Revision.Rev)
	case <-time.After(time.Second):
		t.Fatal("expected a configuration on the subscription channel")
	}
}
