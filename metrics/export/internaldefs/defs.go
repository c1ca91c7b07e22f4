package internaldefs

import (
	"github.com/crimedesk/authclient"
)

// CounterDef names one client counter for exporters.
type CounterDef struct {
	ID   authclient.MetricID
	Name string
	Help string
}

// HistogramDef names one client histogram for exporters.
type HistogramDef struct {
	ID   authclient.MetricID
	Name string
	Help string
}

var CounterDefs = []CounterDef{
	{ID: authclient.MetricLoginSuccess, Name: "authclient_login_success_total", Help: "Logins that established a session."},
	{ID: authclient.MetricLoginFailure, Name: "authclient_login_failure_total", Help: "Failed login attempts."},
	{ID: authclient.MetricMFARequired, Name: "authclient_mfa_required_total", Help: "Logins answered with a verification step."},
	{ID: authclient.MetricMFASuccess, Name: "authclient_mfa_success_total", Help: "Accepted verification codes."},
	{ID: authclient.MetricMFAFailure, Name: "authclient_mfa_failure_total", Help: "Rejected or failed verification attempts."},
	{ID: authclient.MetricMFAResent, Name: "authclient_mfa_resent_total", Help: "Verification codes requested again."},
	{ID: authclient.MetricRefreshSuccess, Name: "authclient_refresh_success_total", Help: "Successful token refreshes."},
	{ID: authclient.MetricRefreshFailure, Name: "authclient_refresh_failure_total", Help: "Failed token refreshes."},
	{ID: authclient.MetricRefreshShared, Name: "authclient_refresh_shared_total", Help: "Refresh calls that joined an exchange in flight."},
	{ID: authclient.MetricRefreshStale, Name: "authclient_refresh_stale_total", Help: "Refresh results dropped because the session changed."},
	{ID: authclient.MetricSessionRestored, Name: "authclient_session_restored_total", Help: "Sessions picked up from storage."},
	{ID: authclient.MetricSessionInvalidated, Name: "authclient_session_invalidated_total", Help: "Sessions dropped after a 401 or failed refresh."},
	{ID: authclient.MetricLogout, Name: "authclient_logout_total", Help: "Logouts."},
	{ID: authclient.MetricProfileUpdated, Name: "authclient_profile_updated_total", Help: "Profile updates."},
	{ID: authclient.MetricPasswordChanged, Name: "authclient_password_changed_total", Help: "Password changes."},
	{ID: authclient.MetricPasswordChangeFailure, Name: "authclient_password_change_failure_total", Help: "Rejected password changes."},
	{ID: authclient.MetricFaultUnauthorized, Name: "authclient_fault_unauthorized_total", Help: "API replies with status 401."},
	{ID: authclient.MetricFaultForbidden, Name: "authclient_fault_forbidden_total", Help: "API replies with status 403."},
	{ID: authclient.MetricFaultNotFound, Name: "authclient_fault_not_found_total", Help: "API replies with status 404."},
	{ID: authclient.MetricFaultServer, Name: "authclient_fault_server_total", Help: "API replies with status 5xx."},
	{ID: authclient.MetricFaultNetwork, Name: "authclient_fault_network_total", Help: "API requests that got no reply."},
	{ID: authclient.MetricRequests, Name: "authclient_requests_total", Help: "Requests sent through the client pipeline."},
}

var HistogramDefs = []HistogramDef{
	{ID: authclient.MetricRequestLatency, Name: "authclient_request_latency_seconds", Help: "Pipeline request latency."},
}

// HistogramUpperBounds are the finite bucket bounds in seconds; the last
// bucket is +Inf.
var HistogramUpperBounds = []float64{0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5}

var HistogramBounds = []string{
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"1",
	"2.5",
	"+Inf",
}


// NormalizeBuckets copies raw into a fixed array, dropping extra buckets
// and zero-filling missing ones.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
