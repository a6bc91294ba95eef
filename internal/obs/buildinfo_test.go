package obs

import (
	"runtime/debug"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func buildInfoLabels(t *testing.T) []map[string]string {
	t.Helper()
	ch := make(chan prometheus.Metric, 8)
	buildInfo.Collect(ch)
	close(ch)
	var out []map[string]string
	for m := range ch {
		pb := &dto.Metric{}
		if err := m.Write(pb); err != nil {
			t.Fatalf("write metric: %v", err)
		}
		labels := map[string]string{}
		for _, lp := range pb.GetLabel() {
			labels[lp.GetName()] = lp.GetValue()
		}
		out = append(out, labels)
	}
	return out
}

func TestInitBuildInfoKeepsOneSeries(t *testing.T) {
	InitBuildInfo("1.0.0", "abc123")
	InitBuildInfo("1.0.1", "def456")

	series := buildInfoLabels(t)
	if len(series) != 1 {
		t.Fatalf("expected one series, got %v", series)
	}
	if series[0]["version"] != "1.0.1" || series[0]["commit"] != "def456" || series[0]["go_version"] == "" {
		t.Fatalf("unexpected labels %v", series[0])
	}

	InitBuildInfo("1.0.2", "")
	if got := buildInfoLabels(t)[0]["commit"]; got == "" {
		t.Fatalf("expected a commit fallback")
	}
}

func TestVCSRevisionIsShortened(t *testing.T) {
	info := &debug.BuildInfo{Settings: []debug.BuildSetting{
		{Key: "vcs", Value: "git"},
		{Key: "vcs.revision", Value: "0123456789abcdef0123"},
	}}
	if got := vcsRevision(info); got != "0123456789ab" {
		t.Fatalf("vcsRevision=%q", got)
	}
	if got := vcsRevision(&debug.BuildInfo{}); got != "" {
		t.Fatalf("expected empty revision, got %q", got)
	}
}
