package version

import (
	"runtime"
	"runtime/debug"

	"github.com/mitchellh/mapstructure"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// set with ldflags at build time
var (
	GitCommit  string
	GitBranch  string
	GitSummary string
	BuildDate  string
	AppVersion string
)

type Version struct {
	GitCommit  string `json:"git_commit" mapstructure:"git_commit"`
	GitBranch  string `json:"git_branch" mapstructure:"git_branch"`
	GitSummary string `json:"git_summary" mapstructure:"git_summary"`
	BuildDate  string `json:"build_date" mapstructure:"build_date"`
	AppVersion string `json:"app_version" mapstructure:"app_version"`
	GoVersion  string `json:"go_version" mapstructure:"go_version"`
}

// Current returns the build information of the running binary.
func Current() Version {
	v := Version{
		GitCommit:  GitCommit,
		GitBranch:  GitBranch,
		GitSummary: GitSummary,
		BuildDate:  BuildDate,
		AppVersion: AppVersion,
		GoVersion:  runtime.Version(),
	}

	if v.GitCommit != "" {
		return v
	}

	// binaries built without ldflags still carry the vcs stamp
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				v.GitCommit = s.Value
			case "vcs.time":
				v.BuildDate = s.Value
			}
		}

		if v.AppVersion == "" {
			v.AppVersion = info.Main.Version
		}
	}

	return v
}

// AsMap returns the version fields keyed by their log name.
func (v Version) AsMap() (map[string]any, error) {
	m := map[string]any{}
	if err := mapstructure.Decode(v, &m); err != nil {
		return nil, err
	}

	return m, nil
}

func (v Version) AsLogFields() []any {
	return []any{
		"version", v.AppVersion,
		"commit", v.GitCommit,
		"branch", v.GitBranch,
		"buildDate", v.BuildDate,
		"goVersion", v.GoVersion,
	}
}

// ExportBuildInfoMetric publishes the build information as a constant gauge.
func ExportBuildInfoMetric() {
	v := Current()

	buildInfo := promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vbmc_build_info",
			Help: "A metric with a constant '1' value, labeled by version information.",
		},
		[]string{"branch", "commit", "summary", "date", "version", "go_version"},
	)

	buildInfo.WithLabelValues(v.GitBranch, v.GitCommit, v.GitSummary, v.BuildDate, v.AppVersion, v.GoVersion).Set(1)
}
