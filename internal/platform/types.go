// Package platform describes the host dnsfallback runs on. The information
// is exposed to configuration files as a read-only Lua table so defaults such
// as the package architecture and worker count can follow the machine.
package platform

import "context"

// Info contains platform detection information.
type Info struct {
	OS       string // "linux", "darwin", "windows"
	Arch     string // Debian architecture name ("amd64", "arm64", "armhf", "i386")
	ArchRaw  string // original GOARCH
	Hostname string
	CPUs     int    // logical CPUs, at least 1
	Distro   string // distro ID (Linux only, e.g. "ubuntu")
	Family   string // distro family as reported by the host (Linux only)
}

// IsLinux returns true if the platform is Linux.
func (i *Info) IsLinux() bool {
	return i.OS == "linux"
}

// IsDebianFamily reports whether the host itself installs .deb packages.
func (i *Info) IsDebianFamily() bool {
	return i.IsLinux() && (i.Family == "debian" || i.Distro == "debian" || i.Distro == "ubuntu")
}

// Detector is the interface for platform detection.
type Detector interface {
	Detect(ctx context.Context) (*Info, error)
}

// Static is a Detector that always returns the same Info.
type Static Info

// Detect returns a copy of s.
func (s Static) Detect(ctx context.Context) (*Info, error) {
	info := Info(s)
	return &info, nil
}
