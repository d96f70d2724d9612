package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	indfile "github.com/i5heu/ouroboros-indfile"
	"github.com/i5heu/ouroboros-indfile/api"
	"github.com/i5heu/ouroboros-indfile/internal/keys"
	"github.com/i5heu/ouroboros-indfile/pkg/skylink"
	"github.com/i5heu/ouroboros-indfile/storage"
)

// parseFlags parses the common flags plus whatever extra registers and
// returns the resulting config and the positional arguments.
func parseFlags(name string, args []string, stderr io.Writer, extra func(fs *flag.FlagSet)) (*indfile.Config, *commonFlags, []string, error) {
	c := &commonFlags{}
	fs := newFlagSet(name, stderr)
	c.register(fs)
	if extra != nil {
		extra(fs)
	}
	if err := fs.Parse(args); err != nil {
		return nil, nil, nil, fmt.Errorf("%w: %v", errUsage, err)
	}

	cfg, err := loadConfig(c, stderr)
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, c, fs.Args(), nil
}

// setup parses flags for name and opens a Files instance on the configured
// store. The caller closes the store.
func setup(name string, args []string, stdin io.Reader, stderr io.Writer, extra func(fs *flag.FlagSet)) (*indfile.Files, storage.Store, *indfile.Config, []string, error) {
	cfg, c, rest, err := parseFlags(name, args, stderr, extra)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	files, store, err := openFiles(cfg, seedProvider(cfg, c, stdin, stderr))
	if err != nil {
		return nil, nil, nil, nil, err
	}
	return files, store, cfg, rest, nil
}

func runCreate(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	files, store, _, rest, err := setup("create", args, stdin, stderr, nil)
	if err != nil {
		return err
	}
	defer store.Close()

	if len(rest) != 1 {
		return fmt.Errorf("%w: create takes exactly one file", errUsage)
	}

	data, err := os.ReadFile(rest[0])
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	resp, err := files.CreateEncryptedFile(ctx, indfile.CreateRequest{FileData: data})
	if err != nil {
		return err
	}

	fmt.Fprintf(stderr, "Stored %s (%s)\n", rest[0], humanize.IBytes(uint64(len(data))))
	fmt.Fprintf(stdout, "skylink:    %s\n", resp.Address)
	fmt.Fprintf(stdout, "viewKey:    %s\n", resp.ViewKey)
	fmt.Fprintf(stdout, "capability: %s%s\n", resp.Address, resp.ViewKey)
	return nil
}

// splitCapability accepts either one capability string or a skylink and a
// view key given separately.
func splitCapability(args []string) (string, string, error) {
	switch len(args) {
	case 1:
		c := strings.TrimSpace(args[0])
		if len(c) != skylink.EncodedSize+keys.EncodedViewKeySize {
			return "", "", fmt.Errorf("%w: capability must be %d characters, got %d",
				errUsage, skylink.EncodedSize+keys.EncodedViewKeySize, len(c))
		}
		return c[:skylink.EncodedSize], c[skylink.EncodedSize:], nil
	case 2:
		return args[0], args[1], nil
	default:
		return "", "", fmt.Errorf("%w: view takes a capability or a skylink and a view key", errUsage)
	}
}

func runView(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	var output string
	files, store, _, rest, err := setup("view", args, stdin, stderr, func(fs *flag.FlagSet) {
		fs.StringVar(&output, "o", "", "write the file here instead of stdout")
	})
	if err != nil {
		return err
	}
	defer store.Close()

	address, viewKey, err := splitCapability(rest)
	if err != nil {
		return err
	}

	resp, err := files.ViewEncryptedFile(ctx, indfile.ViewRequest{Address: address, ViewKey: viewKey})
	if err != nil {
		return err
	}

	if output == "" {
		_, err = stdout.Write(resp.FileData)
		return err
	}
	if err := os.WriteFile(output, resp.FileData, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", output, err)
	}
	fmt.Fprintf(stderr, "Wrote %s (%s)\n", output, humanize.IBytes(uint64(len(resp.FileData))))
	return nil
}

func runServe(ctx context.Context, args []string, stdin io.Reader, stderr io.Writer) error {
	var listen string
	files, store, cfg, rest, err := setup("serve", args, stdin, stderr, func(fs *flag.FlagSet) {
		fs.StringVar(&listen, "listen", "", "listen address (default "+indfile.DefaultListen+")")
	})
	if err != nil {
		return err
	}
	defer store.Close()

	if len(rest) != 0 {
		return fmt.Errorf("%w: serve takes no arguments", errUsage)
	}
	if listen != "" {
		cfg.Listen = listen
	}

	fmt.Fprintf(stderr, "Listening on %s\n", cfg.Listen)
	return api.NewServer(files, cfg).ListenAndServe(ctx, cfg.Listen)
}

func runInspect(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var clean bool
	cfg, _, rest, err := parseFlags("inspect", args, stderr, func(fs *flag.FlagSet) {
		fs.BoolVar(&clean, "clean", false, "compact the store after inspecting it")
	})
	if err != nil {
		return err
	}
	if !strings.EqualFold(cfg.Backend, indfile.BackendBadger) {
		return fmt.Errorf("%w: inspect needs the %s backend, not %s", errUsage, indfile.BackendBadger, cfg.Backend)
	}

	store, err := indfile.OpenStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer store.Close()
	bs, ok := store.(*storage.BadgerStore)
	if !ok {
		return fmt.Errorf("unexpected store type %T", store)
	}

	var addrs []skylink.Address
	switch len(rest) {
	case 0:
		addrs, err = bs.Addresses()
		if err != nil {
			return err
		}
	case 1:
		addr, err := skylink.Parse(rest[0])
		if err != nil {
			return fmt.Errorf("%w: %v", errUsage, err)
		}
		addrs = []skylink.Address{addr}
	default:
		return fmt.Errorf("%w: inspect takes at most one skylink", errUsage)
	}

	fmt.Fprintf(stdout, "Store path: %s\n", cfg.Paths[0])
	fmt.Fprintf(stdout, "Envelopes: %d\n", len(addrs))

	failed := 0
	for _, addr := range addrs {
		info, err := bs.Stat(ctx, addr)
		if err != nil {
			return fmt.Errorf("failed to stat %s: %w", addr, err)
		}
		fmt.Fprint(stdout, info.Format())

		result := bs.Validate(ctx, addr)
		switch {
		case !result.Passed():
			failed++
			fmt.Fprintf(stdout, "  Validation: FAILED (%v)\n", result.Err)
		case result.Repaired > 0:
			fmt.Fprintf(stdout, "  Validation: ok, %d slice(s) rebuilt from parity\n", result.Repaired)
		default:
			fmt.Fprintln(stdout, "  Validation: ok")
		}
	}

	if clean {
		if err := bs.Clean(); err != nil {
			return err
		}
		fmt.Fprintln(stdout, "Store compacted")
	}

	if failed > 0 {
		return fmt.Errorf("%d envelope(s) failed validation", failed)
	}
	return nil
}
