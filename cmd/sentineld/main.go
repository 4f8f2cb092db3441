package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bytedance/sonic"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/sentinel/internal/analysis"
	"github.com/GriffinCanCode/sentinel/internal/infrastructure/config"
	"github.com/GriffinCanCode/sentinel/internal/infrastructure/logging"
	"github.com/GriffinCanCode/sentinel/internal/sandbox/native"
	"github.com/GriffinCanCode/sentinel/internal/server"
)

// exitMalicious is returned by scan when any file is judged Malicious.
const exitMalicious = 3

type exitError int

func (e exitError) Error() string { return fmt.Sprintf("exit status %d", int(e)) }

func main() {
	// The sandbox re-executes this binary as the sample's init process.
	native.MaybeRunInit()

	if err := run(os.Args[1:]); err != nil {
		var code exitError
		if errors.As(err, &code) {
			os.Exit(int(code))
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(argv []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	flagSet := pflag.NewFlagSet("sentineld", pflag.ContinueOnError)
	flagSet.StringVar(&cfg.Server.Host, "host", cfg.Server.Host, "listen host")
	flagSet.StringVar(&cfg.Server.Port, "port", cfg.Server.Port, "listen port")
	flagSet.StringVar(&cfg.Logging.Level, "log-level", cfg.Logging.Level, "log level (debug, info, warn, error)")
	flagSet.BoolVar(&cfg.Logging.Development, "dev", cfg.Logging.Development, "colored console logs")
	flagSet.StringVar(&cfg.Guest.ModulePath, "guest-module", cfg.Guest.ModulePath, "path to the Tier 1 analysis module (.wasm)")
	flagSet.StringVar(&cfg.Native.PolicyFile, "policy", cfg.Native.PolicyFile, "sandbox syscall policy file (YAML or TOML)")
	flagSet.BoolVar(&cfg.Native.Enabled, "native", cfg.Native.Enabled, "enable the Tier 2 native sandbox")
	flagSet.StringVar(&cfg.Quarantine.Dir, "quarantine-dir", cfg.Quarantine.Dir, "store Malicious samples here")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(argv); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := logging.New(logging.Config{Level: cfg.Logging.Level, Development: cfg.Logging.Development})
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := server.NewServer(ctx, cfg, server.Options{Logger: logger})
	if err != nil {
		logger.Error("Failed to create server", zap.Error(err))
		return err
	}
	defer srv.Close(context.Background())

	args := flagSet.Args()
	if len(args) > 0 && args[0] == "scan" {
		return scan(ctx, srv, args[1:])
	}
	if len(args) > 0 {
		return fmt.Errorf("unexpected argument: %s", args[0])
	}
	return srv.Run(ctx)
}

// scan analyzes files without starting the HTTP server and prints one JSON
// result per line.
func scan(ctx context.Context, srv *server.Server, paths []string) error {
	if len(paths) == 0 {
		return errors.New("scan: no files given")
	}
	enc := sonic.ConfigStd.NewEncoder(os.Stdout)
	malicious := false
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("scan: %w", err)
		}
		res := srv.Orchestrator().AnalyzeFile(ctx, data, p)
		if err := enc.Encode(struct {
			Path string `json:"path"`
			*analysis.Result
		}{p, res}); err != nil {
			return err
		}
		malicious = malicious || res.Verdict == analysis.Malicious
	}
	if malicious {
		return exitError(exitMalicious)
	}
	return nil
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `sentineld triages files for malware in two tiers: a WebAssembly analysis
module, then a namespaced and traced native sandbox for inconclusive files.

Usage:
  sentineld [flags]              serve the HTTP API
  sentineld [flags] scan FILE... analyze files and print JSON results

scan exits with status %d when any file is judged malicious.

Flags:
`, exitMalicious)
	flagSet.PrintDefaults()
}
