// ABOUTME: Version information for pcmstream
// ABOUTME: Product identity reported in logs and metrics
package version

// Version is overridden at build time with -ldflags "-X .../internal/version.Version=..."
var Version = "0.1.0"

const (
	Product      = "pcmstream"
	Manufacturer = "Resonate"
)
