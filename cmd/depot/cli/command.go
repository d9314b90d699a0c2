// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/pflag"
)

// Command is one node of the depot command tree.
type Command struct {
	// Name is the word that selects this command on the command line.
	Name string

	// Summary appears next to Name when the parent lists its
	// subcommands.
	Summary string

	// Description heads this command's own help page. Summary is used
	// when it is empty.
	Description string

	// Usage overrides the generated usage line, for commands that take
	// positional arguments.
	Usage string

	Examples []Example

	// Flags builds a fresh flag set each time it is called. Nil means
	// the command takes no flags.
	Flags func() *pflag.FlagSet

	Subcommands []*Command

	// Run receives the positional arguments left after flag parsing.
	// A command with both Run and Subcommands runs when the first
	// argument names no subcommand.
	Run func(ctx context.Context, args []string, logger *slog.Logger) error

	// Output receives help text. Inherited from the parent; os.Stderr
	// at the root.
	Output io.Writer

	// NewLogger builds the logger handed to Run. Inherited from the
	// parent; NewCommandLogger at the root.
	NewLogger func() *slog.Logger

	// parent is linked while dispatching.
	parent *Command
}

// Example is one annotated command line on a help page.
type Example struct {
	Description string
	Command     string
}

// Execute runs the command addressed by args, descending through
// subcommands as long as the leading argument names one.
func (c *Command) Execute(ctx context.Context, args []string) error {
	if len(args) > 0 && isHelpFlag(args[0]) {
		c.PrintHelp(c.output())
		return nil
	}

	if len(c.Subcommands) > 0 && len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		return c.dispatch(ctx, args[0], args[1:])
	}

	if len(c.Subcommands) > 0 && c.Run == nil {
		c.PrintHelp(c.output())
		if len(args) == 0 {
			return errors.New("subcommand required")
		}
		return fmt.Errorf("subcommand required (got flag %q)", args[0])
	}

	positional, err := c.parseFlags(args)
	if err != nil {
		return err
	}
	if c.Run == nil {
		c.PrintHelp(c.output())
		return fmt.Errorf("no action defined for %q", c.fullName())
	}
	return c.Run(ctx, positional, c.logger())
}

func (c *Command) dispatch(ctx context.Context, name string, rest []string) error {
	for _, sub := range c.Subcommands {
		if sub.Name == name {
			sub.parent = c
			return sub.Execute(ctx, rest)
		}
	}
	if suggestion := suggestCommand(name, c.Subcommands); suggestion != "" {
		return c.usageError("unknown command %q (did you mean %q?)", name, suggestion)
	}
	return c.usageError("unknown command %q", name)
}

// parseFlags returns the positional arguments. pflag's own error
// printing is silenced so the error can carry a suggestion instead.
func (c *Command) parseFlags(args []string) ([]string, error) {
	if c.Flags == nil {
		return args, nil
	}
	flagSet := c.Flags()
	flagSet.SetOutput(io.Discard)
	err := flagSet.Parse(args)
	if err == nil {
		return flagSet.Args(), nil
	}

	message := err.Error()
	if strings.Contains(message, "unknown flag") || strings.Contains(message, "unknown shorthand flag") {
		// The failed parse left flagSet half-populated.
		if suggestion := suggestFlag(args, c.Flags()); suggestion != "" {
			return nil, c.usageError("%s (did you mean %s?)", message, suggestion)
		}
	}
	return nil, c.usageError("%s", message)
}

func (c *Command) usageError(format string, args ...any) error {
	return fmt.Errorf("%s\n\nRun '%s --help' for usage.", fmt.Sprintf(format, args...), c.fullName())
}

// PrintHelp writes the help page: description, usage, subcommands,
// flags, examples.
func (c *Command) PrintHelp(w io.Writer) {
	name := c.fullName()

	heading := c.Description
	if heading == "" {
		heading = c.Summary
	}
	if heading != "" {
		fmt.Fprintf(w, "%s\n\n", heading)
	}

	usage := c.Usage
	switch {
	case usage != "":
	case len(c.Subcommands) > 0:
		usage = name + " <command> [flags]"
	default:
		usage = name + " [flags]"
	}
	fmt.Fprintf(w, "Usage:\n  %s\n", usage)

	if len(c.Subcommands) > 0 {
		fmt.Fprintln(w, "\nCommands:")
		table := tabwriter.NewWriter(w, 2, 0, 3, ' ', 0)
		for _, sub := range c.Subcommands {
			fmt.Fprintf(table, "  %s\t%s\n", sub.Name, sub.Summary)
		}
		table.Flush()
	}

	if c.Flags != nil {
		if flags := c.Flags().FlagUsages(); flags != "" {
			fmt.Fprintf(w, "\nFlags:\n%s", flags)
		}
	}

	if len(c.Examples) > 0 {
		fmt.Fprintln(w, "\nExamples:")
		for _, example := range c.Examples {
			if example.Description == "" {
				fmt.Fprintf(w, "  %s\n", example.Command)
				continue
			}
			fmt.Fprintf(w, "  # %s\n  %s\n\n", example.Description, example.Command)
		}
	}

	if len(c.Subcommands) > 0 {
		fmt.Fprintf(w, "\nRun '%s <command> --help' for more information on a command.\n", name)
	}
}

// fullName joins the names from the root down, "depot index pack".
func (c *Command) fullName() string {
	if c.parent == nil {
		return c.Name
	}
	return c.parent.fullName() + " " + c.Name
}

func (c *Command) output() io.Writer {
	for command := c; command != nil; command = command.parent {
		if command.Output != nil {
			return command.Output
		}
	}
	return os.Stderr
}

func (c *Command) logger() *slog.Logger {
	for command := c; command != nil; command = command.parent {
		if command.NewLogger != nil {
			return command.NewLogger()
		}
	}
	return NewCommandLogger(false)
}

func isHelpFlag(arg string) bool {
	switch arg {
	case "-h", "--help", "help":
		return true
	}
	return false
}
