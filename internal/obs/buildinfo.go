package obs

import (
	"runtime/debug"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// BuildInfo identifies the running binary.
type BuildInfo struct {
	Version   string
	Commit    string
	GoVersion string
	Dirty     bool
}

func (b BuildInfo) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("version", b.Version)
	enc.AddString("commit", b.Commit)
	enc.AddString("go_version", b.GoVersion)
	enc.AddBool("dirty", b.Dirty)
	return nil
}

var (
	buildInfoOnce sync.Once
	buildInfo     = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "restgen_build_info",
		Help: "Always 1; labels identify the running binary.",
	}, []string{"version", "commit", "go_version"})

	readBuildInfo = debug.ReadBuildInfo
)

// ResolveBuildInfo fills what the linker flags left unset from the module
// and VCS data embedded by the Go toolchain.
func ResolveBuildInfo(version, commit string) BuildInfo {
	b := BuildInfo{Version: version, Commit: commit, GoVersion: "unknown"}
	bi, ok := readBuildInfo()
	if !ok {
		return b.withDefaults()
	}
	b.GoVersion = bi.GoVersion
	if unset(b.Version) && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		b.Version = bi.Main.Version
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if unset(b.Commit) {
				b.Commit = s.Value
			}
		case "vcs.modified":
			b.Dirty = s.Value == "true"
		}
	}
	return b.withDefaults()
}

func unset(s string) bool {
	s = strings.TrimSpace(s)
	return s == "" || s == "dev" || s == "none"
}

func (b BuildInfo) withDefaults() BuildInfo {
	if strings.TrimSpace(b.Version) == "" {
		b.Version = "dev"
	}
	if strings.TrimSpace(b.Commit) == "" {
		b.Commit = "none"
	}
	if len(b.Commit) > 12 {
		b.Commit = b.Commit[:12]
	}
	return b
}

// PublishBuildInfo exports b as restgen_build_info and returns it.
func PublishBuildInfo(b BuildInfo) BuildInfo {
	buildInfoOnce.Do(func() { prometheus.MustRegister(buildInfo) })
	buildInfo.Reset()
	buildInfo.WithLabelValues(b.Version, b.Commit, b.GoVersion).Set(1)
	Logger().Info("build", zap.Object("build", b))
	return b
}
