package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rzpsarthak13/rpc-absorber/pkg/rpcabsorber"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Format     string // "json" | "text"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command of the rpcabsorber CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "rpcabsorber",
		Short: "Cached, batched and offline-tolerant web-service calls",
		Long: `rpcabsorber calls a site's web services through the local response
cache and inspects the tables of the configured store.

Without --config the configuration is read from RPC_ABSORBER_* variables.`,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "configuration file (.yaml, .yml or .json)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewCallCommand(opts))
	cmd.AddCommand(NewInvalidateCommand(opts))
	cmd.AddCommand(NewTableCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// loadConfig reads the file given with --config, or the environment.
func (o *RootOptions) loadConfig() (*rpcabsorber.Config, error) {
	if o.ConfigPath != "" {
		return rpcabsorber.LoadConfig(o.ConfigPath)
	}
	return rpcabsorber.ConfigFromEnv()
}

// newClient is replaced in tests.
var newClient = func(cfg *rpcabsorber.Config) (rpcabsorber.Client, error) {
	return rpcabsorber.NewClient(cfg)
}

func (o *RootOptions) client() (rpcabsorber.Client, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	return newClient(cfg)
}
