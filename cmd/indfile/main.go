package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	indfile "github.com/i5heu/ouroboros-indfile"
)

const (
	USAGE = `Usage:
  %[1]s create [flags] <file>               Encrypt and store a file, print skylink and view key
  %[1]s view [flags] <capability>           Decrypt a file to stdout (capability = skylink + view key)
  %[1]s view [flags] <skylink> <viewKey>    Same, with the two values given separately
  %[1]s serve [flags]                       Run the HTTP API
  %[1]s inspect [flags] [skylink]           Show stored envelopes of a badger store and validate them

Common flags:
  -config <file>      YAML config file
  -data <dir>         data directory (default ./indfile-data)
  -backend <name>     badger, sqlite or memory
  -seed-file <file>   hex seed file, created on first use
  -passphrase         derive the seed from a passphrase instead of the seed file
                      (read from $INDFILE_PASSPHRASE or prompted)
  -v                  debug logging

Examples:
  %[1]s create document.pdf
  %[1]s view -o document.pdf <capability>
`
)

// errUsage marks errors that should be followed by the usage text.
var errUsage = errors.New("invalid usage")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	if err == nil {
		return
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	if errors.Is(err, errUsage) {
		fmt.Fprintf(os.Stderr, USAGE, filepath.Base(os.Args[0]))
	}
	if indfile.Retryable(err) {
		os.Exit(75) // EX_TEMPFAIL
	}
	os.Exit(1)
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: missing command", errUsage)
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "create":
		return runCreate(ctx, rest, stdin, stdout, stderr)
	case "view":
		return runView(ctx, rest, stdin, stdout, stderr)
	case "serve":
		return runServe(ctx, rest, stdin, stderr)
	case "inspect":
		return runInspect(ctx, rest, stdout, stderr)
	case "-h", "-help", "--help", "help":
		fmt.Fprintf(stdout, USAGE, "indfile")
		return nil
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
	}
}

// commonFlags are shared by every command.
type commonFlags struct {
	configPath string
	dataDir    string
	backend    string
	seedFile   string
	passphrase bool
	verbose    bool
}

func (c *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.configPath, "config", "", "YAML config file")
	fs.StringVar(&c.dataDir, "data", "", "data directory (default ./indfile-data)")
	fs.StringVar(&c.backend, "backend", "", "storage backend: badger, sqlite or memory")
	fs.StringVar(&c.seedFile, "seed-file", "", "hex seed file, created on first use")
	fs.BoolVar(&c.passphrase, "passphrase", false, "derive the seed from a passphrase")
	fs.BoolVar(&c.verbose, "v", false, "debug logging")
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}
