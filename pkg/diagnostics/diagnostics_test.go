package diagnostics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nimbusdb.io/nimbus/pkg/topology"
)

func TestDiagnosticsWrapsSnapshotsWithReportID(t *testing.T) {
	snaps := []SessionSnapshot{
		{Service: topology.ServiceKV, ID: "s1", Remote: "node1:11210", State: StateOK, Namespace: "widgets"},
		{Service: topology.ServiceKV, ID: "s2", Remote: "node2:11210", State: StateDisconnected, Namespace: "widgets"},
	}

	report := Diagnostics("", snaps)
	require.NotEmpty(t, report.ID)
	assert.Equal(t, SDKVersion, report.SDKVersion)
	require.Len(t, report.Endpoints, 2)
	assert.Equal(t, StateDisconnected, report.Endpoints[1].State)
}

func TestDiagnosticsPreservesCallerReportID(t *testing.T) {
	report := Diagnostics("my-report", nil)
	assert.Equal(t, "my-report", report.ID)
	assert.Empty(t, report.Endpoints)
}

type fakeTarget struct {
	service   topology.Service
	id        string
	namespace string
	err       error
	delay     time.Duration
}

func (f fakeTarget) Service() topology.Service { return f.service }
func (f fakeTarget) ID() string                { return f.id }
func (f fakeTarget) Namespace() string         { return f.namespace }
func (f fakeTarget) Ping(ctx context.Context) error {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return f.err
}

func TestPingReportsPerTargetOutcome(t *testing.T) {
	targets := []PingTarget{
		fakeTarget{service: topology.ServiceKV, id: "node1", namespace: "widgets"},
		fakeTarget{service: topology.ServiceQuery, id: "node2", err: errors.New("connection refused")},
	}

	report := Ping(context.Background(), "", targets)
	require.Len(t, report.Endpoints, 2)
	assert.Equal(t, StateOK, report.Endpoints[0].State)
	assert.Equal(t, StateError, report.Endpoints[1].State)
}

func TestPingReportsTimeoutWhenContextExpires(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	targets := []PingTarget{
		fakeTarget{service: topology.ServiceKV, id: "node1", delay: 50 * time.Millisecond},
	}

	report := Ping(ctx, "", targets)
	require.Len(t, report.Endpoints, 1)
	assert.Equal(t, StateTimeout, report.Endpoints[0].State)
}
