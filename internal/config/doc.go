// Package config loads dnsfallback's Lua configuration.
//
// A configuration file assigns a global dnsfallback table. Every field is
// optional; missing fields keep the values from Default:
//
//	dnsfallback = {
//	  source = {
//	    url = "https://github.com/signalapp/signal-desktop",
//	    tag_prefix = "v",
//	    min_version = "7.1.0",
//	  },
//	  package = {
//	    url = "https://updates.signal.org/desktop/apt/pool/s/signal-desktop/signal-desktop_{version}_{arch}.deb",
//	    arch = platform.arch,
//	    cache_dir = "/var/cache/dnsfallback",
//	  },
//	  targets = {
//	    member = "data.tar.xz",
//	    bundle = "app.asar",
//	    path = "build/dns-fallback.json",
//	  },
//	  publish = {
//	    repo = "/srv/dns-fallback",
//	    push = true,
//	  },
//	  options = {
//	    concurrency = math.min(platform.cpus, 4),
//	  },
//	}
//
// The file runs in a sandboxed gopher-lua VM: only the base, string, table
// and math libraries are loaded and code loading functions are removed. A
// read-only platform table (see package platform) is available to the
// script. Secrets such as push tokens belong in the environment, not in the
// file; the parser warns when it finds something that looks like one.
package config
