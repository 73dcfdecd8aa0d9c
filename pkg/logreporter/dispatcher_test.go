package logreporter

import (
	"log/slog"
	"testing"
)

func newTestDispatcher(cfg Config) *Dispatcher {
	return NewDispatcher(NewBuffer(100), cfg, slog.Default(), nil)
}

func TestClassifyKindByEventID(t *testing.T) {
	tests := []struct {
		name    string
		record  Record
		want    Kind
	}{
		{"perf slo breach", Record{EventID: 1550, Severity: SeverityInfo}, KindPerfSLOBreach},
		{"telemetry internal", Record{EventID: 4050, Severity: SeverityInfo}, KindTelemetryInternal},
		{"critical by severity", Record{EventID: 1, Severity: SeverityCritical}, KindCritical},
		{"error by severity", Record{EventID: 1, Severity: SeverityError}, KindError},
		{"warning by severity", Record{EventID: 1, Severity: SeverityWarning}, KindWarning},
		{"info by default", Record{EventID: 1, Severity: SeverityInfo}, KindInfo},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifyKind(tt.record); got != tt.want {
				t.Errorf("classifyKind() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTemplateHashDeterministic(t *testing.T) {
	a := templateHash("db", 1500, "slow query")
	b := templateHash("db", 1500, "slow query")
	if a != b {
		t.Fatal("templateHash should be deterministic for identical inputs")
	}
	if templateHash("db", 1501, "slow query") == a {
		t.Fatal("distinct event ids should hash differently")
	}
}

func TestClassifyAggregatesPerfBreaches(t *testing.T) {
	d := newTestDispatcher(Config{})
	records := []Record{
		{EventID: 1500, Category: "db", Message: "slow query", Severity: SeverityInfo},
		{EventID: 1500, Category: "db", Message: "slow query", Severity: SeverityInfo},
		{EventID: 1500, Category: "db", Message: "slow query", Severity: SeverityInfo},
	}

	passthrough, aggregated := d.classify(records)
	if len(passthrough) != 0 {
		t.Fatalf("expected no passthrough items, got %d", len(passthrough))
	}
	if len(aggregated) != 1 {
		t.Fatalf("expected one aggregated item, got %d", len(aggregated))
	}
	if aggregated[0].Count != 3 {
		t.Errorf("aggregated count = %d, want 3", aggregated[0].Count)
	}
}

func TestTenantHashPassthroughWhenDisabled(t *testing.T) {
	d := newTestDispatcher(Config{PseudonymizeTenants: false})
	if got := d.tenantHash("acme"); got != "acme" {
		t.Errorf("tenantHash() = %q, want pass-through", got)
	}
}

func TestTenantHashPseudonymizedDeterministic(t *testing.T) {
	d := newTestDispatcher(Config{PseudonymizeTenants: true, PseudonymizationSecret: "s3cret"})
	a := d.tenantHash("acme")
	b := d.tenantHash("acme")
	if a != b {
		t.Fatal("tenantHash should be deterministic")
	}
	if a == "acme" {
		t.Fatal("pseudonymized tenant hash should not equal the raw tenant id")
	}
}

func TestAllowWarningAllowlistAlwaysIncluded(t *testing.T) {
	d := newTestDispatcher(Config{WarningAllowlistPrefixes: []string{"security."}, WarningSamplingPercent: 0})
	if !d.allowWarning("security.login_failed") {
		t.Fatal("allowlisted category should always be included regardless of sampling rate")
	}
}

func TestDispatcherNoopWithoutMainServerURL(t *testing.T) {
	d := newTestDispatcher(Config{})
	d.buffer.Add(Record{Severity: SeverityCritical, TimestampUnix: 1})

	d.Run(nil) // MainServerURL empty: must return immediately without touching ctx.
	if d.buffer.Len() != 1 {
		t.Fatal("no-op dispatcher must not consume the buffer")
	}
}
