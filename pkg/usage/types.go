package usage

import "time"

// Metric names a metered tenant resource.
type Metric string

const (
	MetricUsers         Metric = "users"
	MetricProfessionals Metric = "professionals"
	MetricClients       Metric = "clients"
	MetricAppointments  Metric = "appointments"
)

// AllMetrics lists every known metric, in display order.
var AllMetrics = []Metric{MetricUsers, MetricProfessionals, MetricClients, MetricAppointments}

// Monthly reports whether the metric counts per calendar month.
// Lifetime metrics (users, professionals, clients) reflect current absolute
// totals and are never reset.
func (m Metric) Monthly() bool {
	return m == MetricAppointments
}

// PeriodKeyLifetime is the period key for absolute counters.
const PeriodKeyLifetime = "lifetime"

// PeriodKeyFor returns the counting window for a metric at the given time:
// "lifetime" for absolute metrics, "YYYY-MM" for monthly ones.
func PeriodKeyFor(m Metric, at time.Time) string {
	if m.Monthly() {
		return at.UTC().Format("2006-01")
	}
	return PeriodKeyLifetime
}

// Unlimited is the plan-limit sentinel meaning no cap.
const Unlimited = -1

// Counter is a denormalized per-tenant, per-metric, per-period count. It is
// best-effort by design: the owning CRUD operations keep it in sync and the
// reconcile job corrects drift from the source tables.
type Counter struct {
	TenantID  string
	Metric    Metric
	PeriodKey string
	Count     int

	// LimitValue is the cached plan limit; nil when never resolved.
	LimitValue *int

	UpdatedAt time.Time
}

// LimitCheck is the result of comparing a counter against its plan limit.
type LimitCheck struct {
	Allowed   bool
	Unlimited bool
	Current   int

	// Limit is meaningless when Unlimited is true.
	Limit      int
	Remaining  int
	Percentage float64
}

// Violation describes one metric whose current usage exceeds a target limit.
type Violation struct {
	Metric  Metric
	Current int
	Limit   int
	Excess  int
}

// DowngradeReport is the outcome of validating a plan downgrade. A downgrade
// is allowed only when Violations is empty; violations are business data for
// the caller to present, not errors.
type DowngradeReport struct {
	CanDowngrade bool
	TargetPlanID string
	Violations   []Violation
}

// Snapshot is a tenant's full usage standing, served to the request
// middleware and dashboards.
type Snapshot struct {
	TenantID   string
	Usage      map[Metric]int
	Limits     map[Metric]int
	Violations []Violation
}
