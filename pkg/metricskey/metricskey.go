package metricskey

import "github.com/effective-security/metrics"

// Stats
var (
	StatsTurnsSucceeded = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_turns_succeeded",
		Help:         "stats_turns_succeeded provides total chat turns reconciled",
		RequiredTags: []string{"model"},
	}

	StatsTurnsFailed = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_turns_failed",
		Help:         "stats_turns_failed provides total chat turns aborted",
		RequiredTags: []string{"model"},
	}

	StatsToolCallsSucceeded = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_tool_calls_succeeded",
		Help:         "stats_tool_calls_succeeded provides total tool calls succeeded",
		RequiredTags: []string{"tool"},
	}

	StatsToolCallsFailed = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_tool_calls_failed",
		Help:         "stats_tool_calls_failed provides total tool calls failed",
		RequiredTags: []string{"tool"},
	}

	StatsToolCallsNotFound = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_tool_calls_not_found",
		Help:         "stats_tool_calls_not_found provides total tool calls for unknown tools",
		RequiredTags: []string{"tool"},
	}

	StatsCacheHits = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_cache_hits",
		Help:         "stats_cache_hits provides total memoization cache hits",
		RequiredTags: []string{"namespace"},
	}

	StatsCacheMisses = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_cache_misses",
		Help:         "stats_cache_misses provides total memoization cache misses",
		RequiredTags: []string{"namespace"},
	}

	StatsCacheEvicted = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_cache_evicted",
		Help:         "stats_cache_evicted provides total expired cache entries removed",
		RequiredTags: []string{"reason"},
	}

	StatsGatewayConnectSucceeded = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_gateway_connect_succeeded",
		Help:         "stats_gateway_connect_succeeded provides total successful external server connects",
		RequiredTags: []string{"transport"},
	}

	StatsGatewayConnectFailed = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_gateway_connect_failed",
		Help:         "stats_gateway_connect_failed provides total failed external server connects",
		RequiredTags: []string{"transport"},
	}

	StatsRankingsPersisted = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_rankings_persisted",
		Help:         "stats_rankings_persisted provides total rankings created from qualifying tool results",
		RequiredTags: []string{"tool"},
	}

	StatsSessionsEvicted = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_sessions_evicted",
		Help:         "stats_sessions_evicted provides total idle sessions evicted",
		RequiredTags: []string{"store"},
	}
)

// Perf
var (
	PerfTurn = metrics.Describe{
		Type:         metrics.TypeSample,
		Name:         "perf_turn",
		Help:         "perf_turn provides duration of a chat turn",
		RequiredTags: []string{"model"},
	}

	PerfToolCall = metrics.Describe{
		Type:         metrics.TypeSample,
		Name:         "perf_tool_call",
		Help:         "perf_tool_call provides duration of tool call",
		RequiredTags: []string{"tool"},
	}

	PerfGatewayConnect = metrics.Describe{
		Type:         metrics.TypeSample,
		Name:         "perf_gateway_connect",
		Help:         "perf_gateway_connect provides duration of external server connect and tool discovery",
		RequiredTags: []string{"transport"},
	}
)

// Metrics returns slice of metrics from this repo
// keep sorted by name
var Metrics = []*metrics.Describe{
	&PerfGatewayConnect,
	&PerfToolCall,
	&PerfTurn,
	&StatsCacheEvicted,
	&StatsCacheHits,
	&StatsCacheMisses,
	&StatsGatewayConnectFailed,
	&StatsGatewayConnectSucceeded,
	&StatsRankingsPersisted,
	&StatsSessionsEvicted,
	&StatsToolCallsFailed,
	&StatsToolCallsNotFound,
	&StatsToolCallsSucceeded,
	&StatsTurnsFailed,
	&StatsTurnsSucceeded,
}
