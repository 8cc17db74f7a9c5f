// Command modrun loads one JavaScript test module through the layered
// resolver and mock-aware runtime described in spec.md, for ad hoc
// inspection outside of any larger test harness.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/modrun/modrun/fsutil"
	"github.com/modrun/modrun/hastemap"
	"github.com/modrun/modrun/resolver"
	modrunruntime "github.com/modrun/modrun/runtime"
	"github.com/modrun/modrun/sandbox"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		verbose  bool
		automock bool
		unmock   []string
	)

	root := &cobra.Command{
		Use:   "modrun <entry-module.js>",
		Short: "Resolve and execute one JS module through modrun's runtime",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger(verbose)
			return runModule(args[0], automock, unmock, log)
		},
	}

	root.Flags().BoolVar(&verbose, "verbose", false, "enable debug logging")
	root.Flags().BoolVar(&automock, "automock", false, "mock every non-core module by default")
	root.Flags().StringSliceVar(&unmock, "unmock", nil, "regex patterns exempted from automock")

	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the modrun version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), "modrun dev")
			return nil
		},
	}
}

func newLogger(verbose bool) *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if verbose {
		log.SetLevel(logrus.DebugLevel)
	}
	return log
}

func runModule(entry string, automock bool, unmockPatterns []string, log *logrus.Logger) error {
	absEntry, err := filepath.Abs(entry)
	if err != nil {
		return fmt.Errorf("resolving entry path: %w", err)
	}
	rootDir := filepath.Dir(absEntry)

	fs := fsutil.NewOsFs()
	log.WithField("root", rootDir).Debug("building haste map")
	haste, err := hastemap.Build(fs, rootDir, resolver.DefaultConfig().ModuleDirectories)
	if err != nil {
		return fmt.Errorf("building haste map: %w", err)
	}

	cfg := resolver.DefaultConfig()
	res := resolver.New(cfg, haste, fs, log.WithField("component", "resolver"))

	env := sandbox.New(log.WithField("component", "sandbox"))
	transformer := sandbox.NewTransformer(fs, env)

	runtimeCfg := modrunruntime.Config{
		Automock:                   automock,
		UnmockedModulePathPatterns: unmockPatterns,
		RootDir:                    rootDir,
		LoadCoreModule: func(name string) (interface{}, error) {
			return nil, fmt.Errorf("core module %q is not registered with this CLI", name)
		},
	}

	engine, err := modrunruntime.New(runtimeCfg, res, env, transformer, fs, log.WithField("component", "runtime"))
	if err != nil {
		return fmt.Errorf("building runtime: %w", err)
	}

	exports, err := engine.RequireModule(absEntry, absEntry)
	if err != nil {
		return fmt.Errorf("executing %s: %w", entry, err)
	}

	log.WithField("exports", exports).Info("module executed")
	return nil
}
