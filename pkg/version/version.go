// Package version exposes build metadata for the pseudostream binary.
//
// Release builds set the variables with -ldflags, e.g.
//
//	go build -ldflags "-X github.com/Sumatoshi-tech/pseudostream/pkg/version.Version=v0.3.0"
//
// Otherwise InitBinaryVersion fills them from the embedded build info.
package version

import (
	"runtime/debug"
)

const unset = "unknown"

var (
	// Version is the semantic version of the binary.
	Version = "dev"

	// Commit is the VCS revision the binary was built from.
	Commit = unset

	// Date is the build or commit time.
	Date = unset
)

// InitBinaryVersion fills any metadata left unset by the linker from the
// module build info recorded by the go tool.
func InitBinaryVersion() {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}

	apply(info)
}

func apply(info *debug.BuildInfo) {
	if Version == "dev" && info.Main.Version != "" && info.Main.Version != "(devel)" {
		Version = info.Main.Version
	}

	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			if Commit == unset {
				Commit = setting.Value
			}
		case "vcs.time":
			if Date == unset {
				Date = setting.Value
			}
		}
	}
}
