package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// InvalidateOptions holds flags for the invalidate command. Exactly one
// scope must be chosen.
type InvalidateOptions struct {
	*RootOptions
	All         bool
	Key         string
	Prefix      string
	Component   string
	ComponentID int64
	Method      string
	Args        string
	Delete      bool
}

// NewInvalidateCommand creates the invalidate command.
func NewInvalidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InvalidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "invalidate",
		Short: "Expire cached responses",
		Long: `Expire cached responses so the next call fetches them again.
Expired responses are still served when the site cannot be reached.

Examples:
  rpcabsorber invalidate --prefix course:4
  rpcabsorber invalidate --component mod_forum --component-id 12
  rpcabsorber invalidate --method core_course_get_contents --args '{"courseid":4}' --delete`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInvalidate(cmd, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.All, "all", false, "expire every response")
	cmd.Flags().StringVar(&opts.Key, "key", "", "expire the responses of a cache key")
	cmd.Flags().StringVar(&opts.Prefix, "prefix", "", "expire the responses whose cache key starts with prefix")
	cmd.Flags().StringVar(&opts.Component, "component", "", "expire the responses of a component")
	cmd.Flags().Int64Var(&opts.ComponentID, "component-id", 0, "restrict --component to one instance")
	cmd.Flags().StringVar(&opts.Method, "method", "", "expire the response of one call")
	cmd.Flags().StringVar(&opts.Args, "args", "{}", "arguments of --method as JSON")
	cmd.Flags().BoolVar(&opts.Delete, "delete", false, "delete instead of expiring (--all, --key and --method only)")
	cmd.MarkFlagsMutuallyExclusive("all", "key", "prefix", "component", "method")
	cmd.MarkFlagsOneRequired("all", "key", "prefix", "component", "method")

	return cmd
}

func runInvalidate(cmd *cobra.Command, opts *InvalidateOptions) error {
	if opts.Delete && (opts.Prefix != "" || opts.Component != "") {
		return fmt.Errorf("--delete is not supported with --prefix or --component")
	}
	var args map[string]any
	if opts.Method != "" {
		if err := json.Unmarshal([]byte(opts.Args), &args); err != nil {
			return fmt.Errorf("invalid --args JSON: %w", err)
		}
	}

	client, err := opts.client()
	if err != nil {
		return err
	}
	defer client.Close()

	ctx := commandContext(cmd)
	o := client.WS()

	var scope string
	switch {
	case opts.All && opts.Delete:
		scope, err = "all responses deleted", o.ClearCache(ctx)
	case opts.All:
		scope, err = "all responses expired", o.InvalidateAll(ctx)
	case opts.Key != "" && opts.Delete:
		scope, err = "key "+opts.Key+" deleted", o.DeleteForKey(ctx, opts.Key)
	case opts.Key != "":
		scope, err = "key "+opts.Key+" expired", o.InvalidateForKey(ctx, opts.Key)
	case opts.Prefix != "":
		scope, err = "keys "+opts.Prefix+"* expired", o.InvalidateForKeyStartingWith(ctx, opts.Prefix)
	case opts.Component != "":
		scope, err = "component "+opts.Component+" expired", o.InvalidateForComponent(ctx, opts.Component, opts.ComponentID)
	case opts.Delete:
		scope, err = "call "+opts.Method+" deleted", o.DeleteCall(ctx, opts.Method, args)
	default:
		scope, err = "call "+opts.Method+" expired", o.InvalidateCall(ctx, opts.Method, args)
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), scope)
	return nil
}
