package platform

import (
	"context"
	"runtime"
	"testing"
)

func TestRealDetector_Detect(t *testing.T) {
	info, err := NewDetector().Detect(context.Background())
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}

	if info.OS != runtime.GOOS {
		t.Errorf("OS = %v, want %v", info.OS, runtime.GOOS)
	}
	if info.ArchRaw != runtime.GOARCH {
		t.Errorf("ArchRaw = %v, want %v", info.ArchRaw, runtime.GOARCH)
	}
	if info.Arch != DebianArch(runtime.GOARCH) {
		t.Errorf("Arch = %v, want %v", info.Arch, DebianArch(runtime.GOARCH))
	}
	if info.CPUs < 1 {
		t.Errorf("CPUs = %d, want at least 1", info.CPUs)
	}
	if runtime.GOOS != "linux" && info.Distro != "" {
		t.Errorf("Distro should be empty on non-Linux, got %v", info.Distro)
	}
}

func TestRealDetector_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// a cancelled context either fails or returns before host lookups complete
	info, err := NewDetector().Detect(ctx)
	if err == nil && info == nil {
		t.Fatal("Detect() returned neither info nor error")
	}
}

func TestDebianArch(t *testing.T) {
	tests := []struct {
		goarch string
		want   string
	}{
		{"amd64", "amd64"},
		{"x86_64", "amd64"},
		{"arm64", "arm64"},
		{"aarch64", "arm64"},
		{"arm", "armhf"},
		{"386", "i386"},
		{"ppc64le", "ppc64el"},
		{"riscv64", "riscv64"},
	}

	for _, tt := range tests {
		t.Run(tt.goarch, func(t *testing.T) {
			if got := DebianArch(tt.goarch); got != tt.want {
				t.Errorf("DebianArch(%q) = %q, want %q", tt.goarch, got, tt.want)
			}
		})
	}
}

func TestStatic_Detect(t *testing.T) {
	s := Static{OS: "linux", Arch: "arm64", CPUs: 2}

	info, err := s.Detect(context.Background())
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	info.Arch = "changed"

	again, _ := s.Detect(context.Background())
	if again.Arch != "arm64" {
		t.Errorf("Static.Detect() returned shared state: %v", again.Arch)
	}
}

func TestInfo_IsDebianFamily(t *testing.T) {
	tests := []struct {
		name string
		info Info
		want bool
	}{
		{"debian family", Info{OS: "linux", Family: "debian"}, true},
		{"ubuntu distro", Info{OS: "linux", Distro: "ubuntu"}, true},
		{"fedora", Info{OS: "linux", Distro: "fedora", Family: "fedora"}, false},
		{"macos", Info{OS: "darwin", Family: "debian"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.info.IsDebianFamily(); got != tt.want {
				t.Errorf("IsDebianFamily() = %v, want %v", got, tt.want)
			}
		})
	}
}
