// Package cli implements the customerctl commands.
package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/illmade-knight/go-customercache/pkg/config"
	"github.com/illmade-knight/go-customercache/pkg/customers"
	"github.com/illmade-knight/go-customercache/pkg/store"
	"github.com/illmade-knight/go-customercache/pkg/transport"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// session is the state shared by one invocation: the store lives exactly as
// long as the command that created it.
type session struct {
	cfg     *config.Config
	logger  zerolog.Logger
	store   store.Store
	service *customers.Service
}

type rootOptions struct {
	configPath string
	baseURL    string
	logLevel   string
	redisAddr  string
	sess       *session
}

// NewRootCmd creates the customerctl root command and its subcommands.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "customerctl",
		Short:         "Fetch and cache customers from a customers API",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			sess, err := opts.open(cmd)
			if err != nil {
				return err
			}
			opts.sess = sess
			return nil
		},
		PersistentPostRunE: func(_ *cobra.Command, _ []string) error {
			if opts.sess == nil {
				return nil
			}
			return opts.sess.store.Close()
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "path to a YAML config file")
	flags.StringVar(&opts.baseURL, "base-url", "", "customers API base URL (overrides config)")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error (overrides config)")
	flags.StringVar(&opts.redisAddr, "redis-addr", "", "share the cache through Redis at this address (overrides config)")

	cmd.AddCommand(newListCmd(opts))
	cmd.AddCommand(newGetCmd(opts))
	cmd.AddCommand(newVerifyCmd(opts))

	return cmd
}

func (o *rootOptions) open(cmd *cobra.Command) (*session, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.baseURL != "" {
		cfg.BaseURL = o.baseURL
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	if o.redisAddr != "" {
		cfg.Redis.Addr = o.redisAddr
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr(), TimeFormat: time.Kitchen}).
		Level(level).With().Timestamp().Logger()

	st, err := newStore(cmd.Context(), cfg, logger)
	if err != nil {
		return nil, err
	}

	client, err := transport.NewClient(cfg.Transport(), nil, logger)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	svc, err := customers.NewService(client, st, logger)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	return &session{cfg: cfg, logger: logger, store: st, service: svc}, nil
}

func newStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (store.Store, error) {
	redisCfg := cfg.Store()
	if redisCfg == nil {
		return store.NewMemoryStore(logger), nil
	}
	return store.NewRedisStore(ctx, redisCfg, logger)
}

// Execute runs the root command and returns the process exit code.
func Execute(ctx context.Context) int {
	if err := NewRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
