package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

const (
	sentinelStart = "<!-- codecontext:start -->"
	sentinelEnd   = "<!-- codecontext:end -->"
)

// newInitCmd builds `codecontext init`, which keeps a codecontext usage
// section in a CLAUDE.md file up to date. Without a path it targets
// CLAUDE.md in the --repo directory.
func newInitCmd(o *options) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "init [path-to-CLAUDE.md]",
		Short: "Write a codecontext usage section to a CLAUDE.md file",
		Long: `Write a codecontext usage section to a CLAUDE.md file. The section sits between
sentinel comments and is replaced in place on later runs; the rest of the
file is left alone. The file is created when missing.

path-to-CLAUDE.md defaults to CLAUDE.md in the --repo directory. With
--dry-run and no path, only the section is printed.`,
		Args: cobra.MaximumNArgs(1),
		// init needs no repository, so skip the root's flag binding.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(_ *cobra.Command, args []string) error {
			section := generateSection()
			if dryRun && len(args) == 0 {
				_, err := fmt.Fprintln(o.stdout, section)
				return err
			}

			path := filepath.Join(o.repo, "CLAUDE.md")
			if len(args) > 0 {
				path = args[0]
			}
			return writeSection(path, section, dryRun, o.stdout, o.stderr)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the resulting file instead of writing it")
	return cmd
}

// writeSection applies section to the file at path and reports whether the
// file was created, updated or already current.
func writeSection(path, section string, dryRun bool, stdout, stderr io.Writer) error {
	existing, err := os.ReadFile(path)
	missing := os.IsNotExist(err)
	if err != nil && !missing {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	updated := applySection(string(existing), section)
	if dryRun {
		_, err := fmt.Fprint(stdout, updated)
		return err
	}

	outcome := "updated"
	switch {
	case missing:
		outcome = "created"
	case updated == string(existing):
		_, _ = fmt.Fprintf(stderr, "codecontext section in %s is up to date\n", path)
		return nil
	}
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	_, _ = fmt.Fprintf(stderr, "%s %s with the codecontext section\n", outcome, path)
	return nil
}

// generateSection returns the full sentinel-wrapped codecontext documentation block.
func generateSection() string {
	body := `## codecontext: Feature Context

Run ` + "`codecontext`" + ` via the Bash tool when a task names a ticket, issue or feature
identifier, or touches HTTP routes. It answers from git history and the parsed
source instead of broad exploration.

**Availability:** Check with ` + "`codecontext --version`" + ` first; skip gracefully if
not found.

**Run it:**
` + "```" + `bash
codecontext feature FEAT-217                 # commits, branches, files, tests for a feature
codecontext feature 42 --max-commits 5       # newest 5 commits only
codecontext examples app/routes.py           # symbols with signatures and docstrings
codecontext examples app --symbol login      # filter a directory by symbol name
git diff | codecontext endpoints --diff -    # routes added, modified or removed
codecontext endpoints --base main            # routes changed since main
` + "```" + `

**All flags:** ` + "`codecontext --help`" + `, ` + "`codecontext <command> --help`" + `

**How to use the output:**

1. **Start from ` + "`feature`" + ` when a task cites an identifier.** The ` + "`paths`" + ` table
   lists the files its commits touched, most touched first; ` + "`tests`" + ` lists
   their existing test files. Read those before searching.

2. **Use ` + "`examples`" + ` instead of reading whole files.** It lists every class,
   function and method with its line range, so you can read just the lines
   you need.

3. **Run ` + "`endpoints`" + ` before finishing a change to a web app.** Each row is an
   added, modified or removed route with its handler, so you can check the
   change did not break an API by accident.

4. **` + "`notFound: true`" + ` means no commit mentions the identifier.** Fall back to
   Grep; the identifier may not be in history yet.`

	return sentinelStart + "\n" + body + "\n" + sentinelEnd
}

// applySection replaces the codecontext block in content, or appends
// section after a blank line when content has none.
func applySection(content, section string) string {
	if before, rest, ok := strings.Cut(content, sentinelStart); ok {
		if _, after, ok := strings.Cut(rest, sentinelEnd); ok {
			return before + section + after
		}
	}
	if content == "" {
		return section + "\n"
	}
	if !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	return content + "\n" + section + "\n"
}
