package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func watchCmd(flags *globalFlags) *cobra.Command {
	var defaultJSON string

	cmd := &cobra.Command{
		Use:   "watch <key>",
		Short: "Print a key's value on every change",
		Long: `Print the resolved value of a key, then print it again every time
another process changes it. Stops on Ctrl+C.

Only backends with a change feed (redis, nats) or a configured relay
deliver changes from other processes.

Examples:
  localstore watch theme
  LOCALSTORE_BACKEND=redis localstore watch theme`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			s, cfg, err := openKey(ctx, flags, args[0], defaultJSON)
			if err != nil {
				return err
			}
			defer s.Close()

			if s.backend.host.Changes == nil {
				warn("The %s backend has no change feed; only local writes will show", cfg.Backend)
				info("Configure relay.url to receive changes from other processes")
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, formatValue(s.manager.Get()))
			dispose := s.manager.Watch(func(v any, ok bool) {
				fmt.Fprintln(out, formatValue(v, ok))
			})
			defer dispose()

			<-ctx.Done()
			return nil
		},
	}

	cmd.Flags().StringVarP(&defaultJSON, "default", "d", "", "JSON value used when nothing usable is stored")

	return cmd
}
