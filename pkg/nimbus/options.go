package nimbus

import (
	"crypto/tls"
	"time"

	"nimbusdb.io/nimbus/pkg/breaker"
)

// ClusterOptions configures a Cluster. Zero-value fields are filled by
// withDefaults; a ConnectionString's options (§6) then override every
// field they name, including one the caller set, via ApplyConnectionString.
type ClusterOptions struct {
	Username string
	Password string
	TLS      *tls.Config

	KVTimeout         time.Duration
	KVDurableTimeout  time.Duration
	QueryTimeout      time.Duration
	AnalyticsTimeout  time.Duration
	SearchTimeout     time.Duration
	ViewTimeout       time.Duration
	ManagementTimeout time.Duration

	EnableMutationTokens            bool
	EnableUnorderedExecution        bool
	EnableClustermapNotification    bool
	Compression                     bool
	CompressionMinSize               int
	CompressionMinRatio              float64

	Network         string // "default" or "external"
	UserAgentExtra  string
	DumpConfig      bool
	ShowQueries     bool

	BreakerConfig breaker.Config
}

// DefaultClusterOptions returns the connection-string default timeouts
// from §6 (2.5s-75s range: KV at the low end, the HTTP services at the
// high end, durable KV at 10s) and sane feature toggles.
func DefaultClusterOptions() ClusterOptions {
	return ClusterOptions{
		KVTimeout:         2500 * time.Millisecond,
		KVDurableTimeout:  10 * time.Second,
		QueryTimeout:      75 * time.Second,
		AnalyticsTimeout:  75 * time.Second,
		SearchTimeout:     75 * time.Second,
		ViewTimeout:       75 * time.Second,
		ManagementTimeout: 75 * time.Second,

		EnableMutationTokens:         true,
		EnableUnorderedExecution:     true,
		EnableClustermapNotification: true,
		Compression:                  true,
		CompressionMinSize:           32,
		CompressionMinRatio:          0.83,

		Network: "default",

		BreakerConfig: breaker.DefaultConfig(),
	}
}

func (o ClusterOptions) withDefaults() ClusterOptions {
	d := DefaultClusterOptions()
	if o.KVTimeout == 0 {
		o.KVTimeout = d.KVTimeout
	}
	if o.KVDurableTimeout == 0 {
		o.KVDurableTimeout = d.KVDurableTimeout
	}
	if o.QueryTimeout == 0 {
		o.QueryTimeout = d.QueryTimeout
	}
	if o.AnalyticsTimeout == 0 {
		o.AnalyticsTimeout = d.AnalyticsTimeout
	}
	if o.SearchTimeout == 0 {
		o.SearchTimeout = d.SearchTimeout
	}
	if o.ViewTimeout == 0 {
		o.ViewTimeout = d.ViewTimeout
	}
	if o.ManagementTimeout == 0 {
		o.ManagementTimeout = d.ManagementTimeout
	}
	if o.CompressionMinSize == 0 {
		o.CompressionMinSize = d.CompressionMinSize
	}
	if o.CompressionMinRatio == 0 {
		o.CompressionMinRatio = d.CompressionMinRatio
	}
	if o.Network == "" {
		o.Network = d.Network
	}
	if (o.BreakerConfig == breaker.Config{}) {
		o.BreakerConfig = d.BreakerConfig
	}
	return o
}

// ApplyConnectionString overrides o's timeouts and feature flags with
// whatever options cs carries explicitly (§6), leaving anything cs
// doesn't mention untouched.
func (o ClusterOptions) ApplyConnectionString(cs *ConnectionString) ClusterOptions {
	o.KVTimeout = cs.DurationOption("kv_timeout", o.KVTimeout)
	o.KVDurableTimeout = cs.DurationOption("kv_durable_timeout", o.KVDurableTimeout)
	o.QueryTimeout = cs.DurationOption("query_timeout", o.QueryTimeout)
	o.AnalyticsTimeout = cs.DurationOption("analytics_timeout", o.AnalyticsTimeout)
	o.SearchTimeout = cs.DurationOption("search_timeout", o.SearchTimeout)
	o.ViewTimeout = cs.DurationOption("view_timeout", o.ViewTimeout)
	o.ManagementTimeout = cs.DurationOption("management_timeout", o.ManagementTimeout)

	o.EnableMutationTokens = cs.BoolOption("enable_mutation_tokens", o.EnableMutationTokens)
	o.EnableUnorderedExecution = cs.BoolOption("enable_unordered_execution", o.EnableUnorderedExecution)
	o.EnableClustermapNotification = cs.BoolOption("enable_clustermap_notification", o.EnableClustermapNotification)
	o.Compression = cs.BoolOption("compression", o.Compression)
	o.CompressionMinSize = cs.IntOption("compression_min_size", o.CompressionMinSize)
	o.CompressionMinRatio = cs.FloatOption("compression_min_ratio", o.CompressionMinRatio)

	o.Network = cs.StringOption("network", o.Network)
	o.UserAgentExtra = cs.StringOption("user_agent_extra", o.UserAgentExtra)
	o.DumpConfig = cs.BoolOption("dump_configuration", o.DumpConfig)
	o.ShowQueries = cs.BoolOption("show_queries", o.ShowQueries)

	return o
}
