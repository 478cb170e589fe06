// codecontext mines the context of a feature from a git repository: the
// commits that mention it, the symbols of its source files, and the HTTP
// routes a change adds, modifies or removes.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	logger "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/phobologic/codecontext/internal/config"
	"github.com/phobologic/codecontext/internal/engine"
	"github.com/phobologic/codecontext/internal/errors"
	"github.com/phobologic/codecontext/internal/logging"
	"github.com/phobologic/codecontext/internal/model"
	"github.com/phobologic/codecontext/internal/ranking"
	"github.com/phobologic/codecontext/internal/toon"
)

var version = "dev"

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	return root.Execute()
}

// options holds the persistent flags shared by every subcommand.
type options struct {
	repo       string
	configPath string
	format     string

	v      *viper.Viper
	stdout io.Writer
	stderr io.Writer
}

// flagKeys maps persistent flags to the configuration keys they override.
var flagKeys = map[string]string{
	"git":        "gitBinary",
	"timeout":    "commandTimeout",
	"log-level":  "logging.level",
	"log-format": "logging.format",
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	o := &options{v: viper.New(), stdout: stdout, stderr: stderr}
	defaults := config.DefaultConfig()

	root := &cobra.Command{
		Use:   "codecontext",
		Short: "Mine feature context from a git repository",
		Long: `codecontext answers three questions about a repository:

  feature     which commits, branches, tags and files belong to a feature identifier
  examples    which symbols a source file defines, with signatures and docs
  endpoints   which HTTP routes a change adds, modifies or removes

Output is TOON by default, a compact format for LLM context windows.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			switch o.format {
			case "toon", "json", "yaml":
			default:
				return errors.Newf(errors.InputValidation, "unknown format %q (want toon, json or yaml)", o.format)
			}
			return o.bind(cmd.Root().PersistentFlags())
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetVersionTemplate("codecontext {{.Version}}\n")

	pf := root.PersistentFlags()
	pf.StringVarP(&o.repo, "repo", "C", ".", "repository root")
	pf.StringVar(&o.configPath, "config", "", "config file (default <repo>/"+config.FileName+")")
	pf.StringVarP(&o.format, "format", "f", "toon", "output format: toon, json or yaml")
	pf.String("git", defaults.GitBinary, "git binary")
	pf.Duration("timeout", defaults.CommandTimeout, "timeout for each git command")
	pf.String("log-level", defaults.Logging.Level, "log level: debug, info, warn or error")
	pf.String("log-format", defaults.Logging.Format, "log format: text or json")

	root.AddCommand(
		newFeatureCmd(o),
		newExamplesCmd(o),
		newEndpointsCmd(o),
		newInitCmd(o),
	)
	return root
}

func (o *options) bind(flags *pflag.FlagSet) error {
	for name, key := range flagKeys {
		if err := o.v.BindPFlag(key, flags.Lookup(name)); err != nil {
			return fmt.Errorf("binding --%s: %w", name, err)
		}
	}
	return nil
}

// open resolves the configuration and opens the engine on the repository.
func (o *options) open() (*engine.Engine, *logger.Logger, error) {
	cfg, err := config.Load(o.v, o.repo, o.configPath)
	if err != nil {
		return nil, nil, err
	}
	log := logging.New(logging.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: o.stderr,
	})
	eng, err := engine.New(cfg, log)
	if err != nil {
		return nil, nil, err
	}
	return eng, log, nil
}

// emit writes v in the selected format. encodeTOON renders the TOON form.
func (o *options) emit(v any, encodeTOON func() string) error {
	var out string
	switch o.format {
	case "json":
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Errorf("encoding json: %w", err)
		}
		out = string(data)
	case "yaml":
		data, err := yaml.Marshal(v)
		if err != nil {
			return fmt.Errorf("encoding yaml: %w", err)
		}
		out = strings.TrimSuffix(string(data), "\n")
	default:
		out = encodeTOON()
	}
	_, err := fmt.Fprintln(o.stdout, out)
	return err
}

func (o *options) warn(format string, args ...any) {
	c := color.New(color.FgYellow)
	if _, ok := o.stderr.(*os.File); !ok {
		c.DisableColor()
	}
	_, _ = c.Fprintf(o.stderr, "warning: "+format+"\n", args...)
}

func logStats(log logger.FieldLogger, eng *engine.Engine) {
	for _, s := range eng.Stats() {
		log.WithFields(logger.Fields{
			"cache":         s.Name,
			"entries":       s.Len,
			"hits":          s.Hits,
			"misses":        s.Misses,
			"invalidations": s.Invalidations,
		}).Debug("cache stats")
	}
}

func newFeatureCmd(o *options) *cobra.Command {
	var maxCommits, maxPaths int

	cmd := &cobra.Command{
		Use:   "feature <id>",
		Short: "Show the commits, refs and files that mention a feature identifier",
		Long: `Search every ref for commits whose message mentions the identifier, then
aggregate branches, tags, touched files, test files and linked issues.

Examples:
  codecontext feature FEAT-217
  codecontext feature 42 --max-commits 5
  codecontext feature JIRA-12 --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, log, err := o.open()
			if err != nil {
				return err
			}
			fc, err := eng.GetFeatureMetadata(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			logStats(log, eng)

			if fc.NotFound {
				o.warn("no commit mentions %s", fc.FeatureID)
			}
			if fc.Diagnostics.SkippedCommits > 0 {
				o.warn("%d commits skipped, result is partial", fc.Diagnostics.SkippedCommits)
			}

			fc = ranking.SelectCommits(fc, maxCommits)
			fc.HotPaths = ranking.SelectPaths(fc.HotPaths, maxPaths)
			return o.emit(fc, func() string { return toon.EncodeFeature(fc) })
		},
	}
	cmd.Flags().IntVarP(&maxCommits, "max-commits", "n", 0, "show only the newest N commits (0 for all)")
	cmd.Flags().IntVar(&maxPaths, "max-paths", 0, "show only the N most touched paths (0 for all)")
	return cmd
}

func newExamplesCmd(o *options) *cobra.Command {
	var (
		symbol   string
		withCode bool
	)

	cmd := &cobra.Command{
		Use:   "examples <path>...",
		Short: "List the symbols defined in source files or directories",
		Long: `Parse source files with tree-sitter and list their classes, functions and
methods with line ranges, signatures and docstrings. Directories are expanded
to their tracked source files.

Examples:
  codecontext examples app/routes.py
  codecontext examples app lib --symbol login
  codecontext examples app/routes.py --code`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, log, err := o.open()
			if err != nil {
				return err
			}
			exs, err := eng.GetCodeExamplesBatch(cmd.Context(), args)
			if err != nil {
				return err
			}
			logStats(log, eng)

			if len(exs) == 1 && exs[0].Err != nil {
				return exs[0].Err
			}
			for i := range exs {
				if exs[i].ParseFailed {
					o.warn("%s does not parse", exs[i].Path)
				}
				exs[i] = ranking.FilterBySymbol(exs[i], symbol)
				if !withCode {
					exs[i] = withoutCode(exs[i])
				}
			}
			return o.emit(exs, func() string { return toon.EncodeExtractions(exs, withCode) })
		},
	}
	cmd.Flags().StringVarP(&symbol, "symbol", "s", "", "keep only symbols whose name contains this text")
	cmd.Flags().BoolVar(&withCode, "code", false, "include symbol source code")
	return cmd
}

func withoutCode(ex model.Extraction) model.Extraction {
	symbols := make([]model.SymbolEntry, len(ex.Symbols))
	copy(symbols, ex.Symbols)
	for i := range symbols {
		symbols[i].Code = ""
	}
	ex.Symbols = symbols
	return ex
}

func newEndpointsCmd(o *options) *cobra.Command {
	var diffFile, base, head string

	cmd := &cobra.Command{
		Use:   "endpoints",
		Short: "Classify the HTTP routes a change adds, modifies or removes",
		Long: `Read a unified diff, or diff two revisions, and report every route
registration that changed, attributed to its enclosing function.

Examples:
  git diff | codecontext endpoints --diff -
  codecontext endpoints --diff change.patch
  codecontext endpoints --base main --head feature/login`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if (diffFile == "") == (base == "") {
				return errors.New(errors.InputValidation, "exactly one of --diff or --base is required")
			}
			eng, log, err := o.open()
			if err != nil {
				return err
			}

			var report model.EndpointReport
			if diffFile != "" {
				text, err := readDiff(cmd.InOrStdin(), diffFile)
				if err != nil {
					return err
				}
				report, err = eng.GetChangedEndpoints(cmd.Context(), text)
				if err != nil {
					return err
				}
			} else {
				report, err = eng.GetChangedEndpointsBetween(cmd.Context(), base, head)
				if err != nil {
					return err
				}
			}
			logStats(log, eng)

			for _, w := range report.Warnings {
				o.warn("%s", w)
			}
			return o.emit(report, func() string { return toon.EncodeEndpoints(report) })
		},
	}
	cmd.Flags().StringVar(&diffFile, "diff", "", "unified diff file, or - for stdin")
	cmd.Flags().StringVar(&base, "base", "", "base revision to diff from")
	cmd.Flags().StringVar(&head, "head", "HEAD", "head revision to diff to")
	return cmd
}

func readDiff(stdin io.Reader, name string) (string, error) {
	if name == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("reading diff from stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(name)
	if err != nil {
		return "", errors.Wrap(errors.FileNotFound, "diff file not found: "+name, err)
	}
	return string(data), nil
}
