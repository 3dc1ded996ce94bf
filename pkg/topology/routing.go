package topology

import (
	"errors"
	"hash/crc32"
)

// ErrNoActiveNode is returned when a vbucket currently has no active node
// assigned (mid-rebalance) or the index is out of range.
var ErrNoActiveNode = errors.New("topology: no active node for vbucket")

// ErrServiceUnavailable is returned when no node in the configuration
// exposes the requested service.
var ErrServiceUnavailable = errors.New("topology: no node exposes the requested service")

// VbucketForKey maps key to a vbucket index using the same crc32-based
// hash the server uses to own a key: the upper bits of crc32-ieee(key)
// modulo the vbucket count.
func VbucketForKey(key []byte, numVbuckets int) int {
	if numVbuckets <= 0 {
		return 0
	}
	sum := crc32.ChecksumIEEE(key)
	return int((sum >> 16) % uint32(numVbuckets))
}

// NodeForVbucket returns the active node for vb, or ErrNoActiveNode if
// unassigned.
func (c *Config) NodeForVbucket(vb int) (Node, error) {
	if vb < 0 || vb >= len(c.Vbuckets.Active) {
		return Node{}, ErrNoActiveNode
	}
	idx := c.Vbuckets.Active[vb]
	if idx < 0 || int(idx) >= len(c.Nodes) {
		return Node{}, ErrNoActiveNode
	}
	return c.Nodes[idx], nil
}

// ReplicasForVbucket returns the replica nodes for vb in ring order,
// skipping any currently-unassigned replica slot.
func (c *Config) ReplicasForVbucket(vb int) []Node {
	if vb < 0 || vb >= len(c.Vbuckets.Replicas) {
		return nil
	}
	var out []Node
	for _, idx := range c.Vbuckets.Replicas[vb] {
		if idx >= 0 && int(idx) < len(c.Nodes) {
			out = append(out, c.Nodes[idx])
		}
	}
	return out
}

// NodeForKey is the common-case routing call: hash key to a vbucket, then
// resolve the vbucket's active node. It returns the vbucket index too, so
// the caller can stamp it on the outgoing request.
func (c *Config) NodeForKey(key []byte) (Node, int, error) {
	vb := VbucketForKey(key, c.Vbuckets.NumVbuckets())
	n, err := c.NodeForVbucket(vb)
	return n, vb, err
}

// ServiceNodes returns every node exposing svc, in configuration order.
func (c *Config) ServiceNodes(svc Service) []Node {
	var out []Node
	for _, n := range c.Nodes {
		if _, ok := n.Addr(svc); ok {
			out = append(out, n)
		}
	}
	return out
}
