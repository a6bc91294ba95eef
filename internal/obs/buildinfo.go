package obs

import (
	"runtime"
	"runtime/debug"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const unknownCommit = "unknown"

var buildInfo = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "companyauth_build_info",
		Help: "Version, commit and Go toolchain of the running auth service.",
	},
	[]string{"version", "commit", "go_version"},
)

// InitBuildInfo publishes a single build_info series. A missing commit is
// taken from the VCS revision the toolchain stamped into the binary.
func InitBuildInfo(version, commit string) {
	goVersion := runtime.Version()
	if info, ok := debug.ReadBuildInfo(); ok {
		if commit == "" || commit == unknownCommit {
			commit = vcsRevision(info)
		}
		if info.GoVersion != "" {
			goVersion = info.GoVersion
		}
	}
	if commit == "" {
		commit = unknownCommit
	}
	buildInfo.Reset()
	buildInfo.WithLabelValues(version, commit, goVersion).Set(1)
}

func vcsRevision(info *debug.BuildInfo) string {
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" {
			if len(s.Value) > 12 {
				return s.Value[:12]
			}
			return s.Value
		}
	}
	return ""
}
