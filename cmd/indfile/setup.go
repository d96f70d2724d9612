package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	indfile "github.com/i5heu/ouroboros-indfile"
	"github.com/i5heu/ouroboros-indfile/pkg/seed"
	"github.com/i5heu/ouroboros-indfile/storage"
	"github.com/sirupsen/logrus"
	"golang.org/x/term"
)

const (
	defaultDataDir   = "indfile-data"
	passphraseEnvVar = "INDFILE_PASSPHRASE"
)

// loadConfig reads the optional config file and lets flags override it.
func loadConfig(c *commonFlags, stderr io.Writer) (*indfile.Config, error) {
	cfg := &indfile.Config{}
	if c.configPath != "" {
		loaded, err := indfile.LoadConfig(c.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if c.dataDir != "" {
		cfg.Paths = []string{c.dataDir}
		if c.seedFile == "" {
			cfg.SeedFile = filepath.Join(c.dataDir, "seed.hex")
		}
	}
	if len(cfg.Paths) == 0 {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
		cfg.Paths = []string{filepath.Join(cwd, defaultDataDir)}
	}
	if c.backend != "" {
		cfg.Backend = c.backend
	}
	if c.seedFile != "" {
		cfg.SeedFile = c.seedFile
	}
	cfg.ApplyDefaults()

	cfg.Logger = logrus.New()
	cfg.Logger.SetOutput(stderr)
	cfg.Logger.SetLevel(logrus.ErrorLevel)
	if c.verbose {
		cfg.Logger.SetLevel(logrus.DebugLevel)
	}
	return cfg, nil
}

// seedProvider returns the module seed provider selected by the flags. The
// passphrase is only read when the seed is first requested.
func seedProvider(cfg *indfile.Config, c *commonFlags, stdin io.Reader, stderr io.Writer) seed.Provider {
	var parent seed.Provider = &seed.FileProvider{Path: cfg.SeedFile, CreateIfMissing: true}
	if c.passphrase {
		parent = &promptProvider{stdin: stdin, stderr: stderr, module: cfg.Module}
	}
	return seed.Derived{Parent: parent, Module: cfg.Module}
}

// promptProvider reads a passphrase once and hands it to a
// seed.PassphraseProvider.
type promptProvider struct {
	stdin  io.Reader
	stderr io.Writer
	module string

	mu    sync.Mutex
	inner *seed.PassphraseProvider
}

func (p *promptProvider) Seed(ctx context.Context) (seed.Seed, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inner == nil {
		passphrase, err := readPassphrase(p.stdin, p.stderr)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", seed.ErrUnavailable, err)
		}
		p.inner = seed.NewPassphraseProvider(passphrase, p.module)
	}
	return p.inner.Seed(ctx)
}

func readPassphrase(stdin io.Reader, stderr io.Writer) (string, error) {
	if v := os.Getenv(passphraseEnvVar); v != "" {
		return v, nil
	}

	if f, ok := stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(stderr, "Passphrase: ")
		passphrase, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(stderr) // New line after hidden input
		if err != nil {
			return "", fmt.Errorf("failed to read passphrase: %w", err)
		}
		return string(passphrase), nil
	}

	line, err := bufio.NewReader(stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("failed to read passphrase from stdin: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// openFiles opens the configured store and wires it to a Files instance.
func openFiles(cfg *indfile.Config, seeds seed.Provider) (*indfile.Files, storage.Store, error) {
	store, err := indfile.OpenStore(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open store: %w", err)
	}
	files, err := indfile.Init(cfg, seeds, store)
	if err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("failed to initialize: %w", err)
	}
	return files, store, nil
}
