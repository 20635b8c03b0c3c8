package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vango-dev/localstore/internal/config"
	"github.com/vango-dev/localstore/internal/errors"
	"github.com/vango-dev/localstore/pkg/localstore"
)

// session is an opened backend with a manager for one key.
type session struct {
	backend *backend
	manager *localstore.Manager[any]
}

func (s *session) Close() {
	s.manager.Destroy()
	s.backend.Close()
}

// openKey opens the configured backend and a manager for key. defaultJSON,
// when not empty, is the value resolved when nothing usable is stored.
func openKey(ctx context.Context, flags *globalFlags, key, defaultJSON string) (*session, *config.Config, error) {
	cfg, err := loadConfig(flags)
	if err != nil {
		return nil, nil, err
	}

	logger := newLogger(flags.verbose)
	b, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	opts := []localstore.Option{
		localstore.WithHost(b.host),
		localstore.WithLogger(logger),
		localstore.WithTimeout(cfg.TimeoutDuration()),
	}

	var m *localstore.Manager[any]
	if defaultJSON != "" {
		def, err := parseJSONArg(defaultJSON)
		if err != nil {
			b.Close()
			return nil, nil, err
		}
		m = localstore.NewWithDefault(key, localstore.Identity(), def, opts...)
	} else {
		m = localstore.New(key, localstore.Identity(), opts...)
	}

	return &session{backend: b, manager: m}, cfg, nil
}

// parseJSONArg decodes a command-line JSON argument.
func parseJSONArg(arg string) (any, error) {
	var v any
	if err := json.Unmarshal([]byte(arg), &v); err != nil {
		return nil, errors.New("E140").
			WithDetail(fmt.Sprintf("%q is not valid JSON", arg)).
			WithSuggestion(`Quote strings as JSON, e.g. '"dark"'`)
	}
	return v, nil
}

// formatValue renders a resolved value as one line of JSON.
func formatValue(v any, ok bool) string {
	if !ok {
		return "undefined"
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

func getCmd(flags *globalFlags) *cobra.Command {
	var defaultJSON string

	cmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Print the stored value of a key",
		Long: `Print the resolved JSON value of a key.

A missing or unreadable value resolves to --default, or "undefined"
when no default is given.

Examples:
  localstore get theme
  localstore get volume --default 50`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, _, err := openKey(cmd.Context(), flags, args[0], defaultJSON)
			if err != nil {
				return err
			}
			defer s.Close()

			fmt.Fprintln(cmd.OutOrStdout(), formatValue(s.manager.Get()))
			return nil
		},
	}

	cmd.Flags().StringVarP(&defaultJSON, "default", "d", "", "JSON value used when nothing usable is stored")

	return cmd
}

func setCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <json>",
		Short: "Store a JSON value under a key",
		Long: `Store a JSON value under a key and notify watchers.

Examples:
  localstore set theme '"dark"'
  localstore set layout '{"sidebar": true}'`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := parseJSONArg(args[1])
			if err != nil {
				return err
			}

			s, cfg, err := openKey(cmd.Context(), flags, args[0], "")
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.manager.Set(v); err != nil {
				return err
			}
			success("Stored %s in %s", args[0], cfg.Backend)
			return nil
		},
	}
}

func removeCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <key>",
		Aliases: []string{"rm"},
		Short:   "Delete a key",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, cfg, err := openKey(cmd.Context(), flags, args[0], "")
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.manager.Remove(); err != nil {
				return err
			}
			success("Removed %s from %s", args[0], cfg.Backend)
			return nil
		},
	}
}
