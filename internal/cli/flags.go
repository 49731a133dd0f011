// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/mind/tinyenv/pkg/flags"
)

func newFlagsCmd(ro *RootOpts) *cobra.Command {
	var (
		file  string
		usage bool
	)

	cmd := &cobra.Command{
		Use:   "flags [-- ARGS...]",
		Short: "Parse ARGS against the flag definitions in $TINYFLAGS",
		Long: `Loads flag definitions from --flags-file or the file named by $TINYFLAGS and
parses ARGS against them. Definitions with an unknown type are skipped. A
missing or unreadable definition file gives an empty flag set.`,
		Example: `  TINYFLAGS=flags.json tinyenv flags -- --iterations 20 --weight-decay 0.1`,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := ro.Logger()

			var defs []flags.Definition
			if file != "" {
				var err error
				if defs, err = flags.Load(file); err != nil {
					return err
				}
			} else {
				defs = flags.LoadEnv(os.Getenv)
				if len(defs) == 0 {
					log.Debug("no flag definitions loaded", "env", flags.EnvVar, "path", os.Getenv(flags.EnvVar))
				}
			}

			set, err := flags.New("tinyflags", defs)
			if err != nil {
				return err
			}
			for _, d := range set.Skipped() {
				log.Warn("skipping flag with unknown type", "name", d.Name, "type", d.Type)
			}

			out := cmd.OutOrStdout()
			if usage {
				fmt.Fprint(out, set.Usage())
				return nil
			}
			if err := set.Parse(args); err != nil {
				if errors.Is(err, pflag.ErrHelp) {
					fmt.Fprint(out, set.Usage())
					return nil
				}
				return err
			}

			if ro.JSONOut {
				return ro.printResult(out, "", map[string]any{"flags": set.Values(), "args": set.Args()})
			}
			values := set.Values()
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tTYPE\tVALUE\tSET")
			for _, d := range set.Definitions() {
				name := d.FlagName()
				fmt.Fprintf(tw, "%s\t%s\t%v\t%t\n", name, d.Kind(), values[name], set.Changed(name))
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			if rest := set.Args(); len(rest) > 0 {
				fmt.Fprintf(out, "args: %v\n", rest)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&file, "flags-file", "", "Flag definition file (overrides $"+flags.EnvVar+")")
	cmd.Flags().BoolVar(&usage, "usage", false, "Print help for the defined flags and exit")

	return cmd
}
