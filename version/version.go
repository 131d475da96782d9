package version

// Set via -ldflags "-X github.com/mykhaliev/agent-oracle/version.Version=..."
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)
