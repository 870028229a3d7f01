package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/Tap30/pulse-go"
)

// globalOptions are shared by every subcommand.
type globalOptions struct {
	configPath  string
	storageType string
	storagePath string
	url         string
	appKey      string
}

func (o *globalOptions) flags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("global", pflag.ContinueOnError)
	fs.StringVarP(&o.configPath, "config", "c", os.Getenv("PULSE_CONFIG"), "YAML config file")
	fs.StringVar(&o.storageType, "storage", "", "Storage backend: file|pebble|redis|none (overrides config)")
	fs.StringVar(&o.storagePath, "storage-path", "", "Storage directory (overrides config)")
	fs.StringVar(&o.url, "url", "", "Collector URL (overrides config)")
	fs.StringVar(&o.appKey, "app-key", "", "Application key (overrides config)")
	return fs
}

// load resolves the effective configuration: file, then environment, then
// flags.
func (o *globalOptions) load() (*pulse.FileConfig, error) {
	cfg := &pulse.FileConfig{}
	if o.configPath != "" {
		loaded, err := pulse.LoadConfig(o.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		pulse.ConfigFromEnv(cfg)
	}

	if o.storageType != "" {
		cfg.Storage.Type = o.storageType
	}
	if o.storagePath != "" {
		cfg.Storage.Path = o.storagePath
	}
	if o.url != "" {
		cfg.URL = o.url
	}
	if o.appKey != "" {
		cfg.AppKey = o.appKey
	}
	return cfg, nil
}

// withClient runs fn against an initialized client and disposes it.
func (o *globalOptions) withClient(ctx context.Context, fn func(*pulse.Client) error) error {
	cfg, err := o.load()
	if err != nil {
		return err
	}
	clientConfig, closeStorage, err := cfg.ClientConfig()
	if err != nil {
		return err
	}
	defer closeStorage()

	client, err := pulse.NewClient(clientConfig)
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	if err := client.Init(); err != nil {
		return fmt.Errorf("init client: %w", err)
	}

	runErr := fn(client)
	if err := disposeClient(ctx, client); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// settleTimeout bounds the wait for an in-flight delivery once the command
// context has ended, so storage is not closed under it.
var settleTimeout = 5 * time.Second

func disposeClient(ctx context.Context, client *pulse.Client) error {
	err := client.Dispose(ctx)
	if err == nil || ctx.Err() == nil {
		return err
	}
	settle, cancel := context.WithTimeout(context.Background(), settleTimeout)
	defer cancel()
	if waitErr := client.Dispose(settle); waitErr != nil {
		return fmt.Errorf("%w (delivery still in flight: %v)", err, waitErr)
	}
	return err
}

func newRootCommand() *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:           "pulse",
		Short:         "Inspect and drive a pulse telemetry store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().AddFlagSet(opts.flags())

	rootCmd.AddCommand(newQueueCommand(opts))
	rootCmd.AddCommand(newDeviceIDCommand(opts))
	rootCmd.AddCommand(newSendEventCommand(opts))
	return rootCmd
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
