// Command dnsfallback extracts the DNS fallback table from Signal Desktop
// release packages and republishes it as tagged commits in a git repository.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// Version will be set at build time via -ldflags
var Version = "v0.1.0-dev"

// exitError carries a non-zero exit code without an error message.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		printUsage(stdout)
		return 0
	}

	var err error
	switch args[0] {
	case "--version", "version":
		fmt.Fprintf(stdout, "dnsfallback %s\n", Version)
		return 0
	case "--help", "-h", "help":
		printUsage(stdout)
		return 0
	case "versions":
		err = runVersions(args[1:], stdout, stderr)
	case "extract":
		err = runExtract(args[1:], stdout, stderr)
	case "run":
		err = runRun(args[1:], stdout, stderr)
	case "config":
		err = runConfig(args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "Error: unknown command: %s\n\n", args[0])
		printUsage(stderr)
		return 2
	}

	var exit *exitError
	if errors.As(err, &exit) {
		return exit.code
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "dnsfallback - Signal Desktop DNS fallback extractor")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  dnsfallback --version               Show version information")
	fmt.Fprintln(w, "  dnsfallback versions [options]      List release versions from the source repository")
	fmt.Fprintln(w, "  dnsfallback extract [options] FILE  Extract the fallback table from a .deb or app.asar")
	fmt.Fprintln(w, "  dnsfallback extract --version V     Download version V and extract its fallback table")
	fmt.Fprintln(w, "  dnsfallback run [options]           Publish every new release into the output repository")
	fmt.Fprintln(w, "  dnsfallback config [options]        Print the effective configuration as Lua")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Run 'dnsfallback <command> --help' for command options.")
}
