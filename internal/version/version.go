package version

import "fmt"

// Build metadata, set with -ldflags "-X crypto-sentinel/internal/version.Version=...".
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// String renders the multi-line build banner printed by the version command.
func String() string {
	return fmt.Sprintf("sentinel %s\ncommit: %s\nbuilt: %s\n", Version, Commit, BuildDate)
}
