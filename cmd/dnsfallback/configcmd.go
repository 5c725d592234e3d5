package main

import (
	"context"
	"io"

	"github.com/ZebulonRouseFrantzich/dnsfallback/internal/config"
)

// runConfig handles `dnsfallback config`: print the effective configuration
// (file plus defaults) as a Lua file that can be edited and loaded back.
func runConfig(args []string, stdout, stderr io.Writer) error {
	var common commonFlags
	fs := newFlagSet("config", stderr)
	common.register(fs)

	if stop, err := parseFlags(fs, args, &common, "dnsfallback config [options]", stdout); stop || err != nil {
		return err
	}

	cfg, err := common.loadConfig(context.Background(), common.bootstrapLogger(stderr))
	if err != nil {
		return err
	}
	_, err = io.WriteString(stdout, config.NewGenerator().Generate(cfg))
	return err
}
