package diagnostics

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"nimbusdb.io/nimbus/pkg/log"
	"nimbusdb.io/nimbus/pkg/topology"
)

// EndpointState is the health a single diagnostics/ping entry reports.
type EndpointState string

const (
	StateOK      EndpointState = "ok"
	StateTimeout EndpointState = "timeout"
	StateError   EndpointState = "error"
	StateConnecting EndpointState = "connecting"
	StateDisconnected EndpointState = "disconnected"
)

// SessionSnapshot is one binary session's observable state at the moment
// Diagnostics was called, supplied by whatever owns the session pool
// (the nimbus facade); this package has no socket of its own.
type SessionSnapshot struct {
	Service      topology.Service
	ID           string // opaque per-session identifier, e.g. a UUID assigned at creation
	Local        string
	Remote       string
	LastActivity time.Time
	State        EndpointState
	Namespace    string // bucket the session is scoped to, if any
}

// EndpointReport is one entry of a DiagnosticsReport or PingReport.
type EndpointReport struct {
	Service   topology.Service `json:"service"`
	ID        string           `json:"id"`
	Local     string           `json:"local,omitempty"`
	Remote    string           `json:"remote,omitempty"`
	LastActivity time.Time     `json:"last_activity_us,omitempty"`
	State     EndpointState    `json:"state"`
	Namespace string           `json:"namespace,omitempty"`
	Latency   time.Duration    `json:"latency,omitempty"`
}

// DiagnosticsReport is a frozen, point-in-time view of every known
// session. It never performs I/O: it only reflects state already
// observed.
type DiagnosticsReport struct {
	ID         string           `json:"id"`
	SDKVersion string           `json:"sdk"`
	Endpoints  []EndpointReport `json:"endpoints"`
}

// SDKVersion is reported in every DiagnosticsReport/PingReport; bumped on
// release.
const SDKVersion = "nimbus-go/0.1.0"

// Diagnostics synthesizes a report from the supplied session snapshots,
// stamping it with a freshly generated report id (or the caller-supplied
// one).
func Diagnostics(reportID string, snapshots []SessionSnapshot) DiagnosticsReport {
	if reportID == "" {
		reportID = uuid.NewString()
	}
	endpoints := make([]EndpointReport, 0, len(snapshots))
	for _, s := range snapshots {
		endpoints = append(endpoints, EndpointReport{
			Service:      s.Service,
			ID:           s.ID,
			Local:        s.Local,
			Remote:       s.Remote,
			LastActivity: s.LastActivity,
			State:        s.State,
			Namespace:    s.Namespace,
		})
	}
	return DiagnosticsReport{ID: reportID, SDKVersion: SDKVersion, Endpoints: endpoints}
}

// PingTarget is one endpoint Ping can actively probe: a KV session (via a
// no-op opcode) or an HTTP service endpoint (via its health-check path).
// Implementations live in the packages that actually own a socket
// (session, httppool); this package only orchestrates and times them.
type PingTarget interface {
	Service() topology.Service
	ID() string
	Namespace() string
	Ping(ctx context.Context) error
}

// PingReport is the result of probing every supplied target once.
type PingReport struct {
	ID        string           `json:"id"`
	SDKVersion string          `json:"sdk"`
	Endpoints []EndpointReport `json:"endpoints"`
}

// Ping probes every target concurrently, bounding each probe by ctx's
// deadline, and reports per-target latency and outcome.
func Ping(ctx context.Context, reportID string, targets []PingTarget) PingReport {
	if reportID == "" {
		reportID = uuid.NewString()
	}

	logger := log.WithComponent("diagnostics")
	results := make([]EndpointReport, len(targets))

	var wg sync.WaitGroup
	for i, target := range targets {
		wg.Add(1)
		go func(i int, target PingTarget) {
			defer wg.Done()
			start := time.Now()
			err := target.Ping(ctx)
			latency := time.Since(start)

			report := EndpointReport{
				Service:   target.Service(),
				ID:        target.ID(),
				Namespace: target.Namespace(),
				Latency:   latency,
			}
			switch {
			case err == nil:
				report.State = StateOK
			case ctx.Err() != nil:
				report.State = StateTimeout
			default:
				report.State = StateError
				logger.Debug().Str("id", target.ID()).Err(err).Msg("ping probe failed")
			}
			results[i] = report
		}(i, target)
	}
	wg.Wait()

	return PingReport{ID: reportID, SDKVersion: SDKVersion, Endpoints: results}
}
