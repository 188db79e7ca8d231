package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rzpsarthak13/rpc-absorber/internal/ws"
)

// CallOptions holds flags for the call command.
type CallOptions struct {
	*RootOptions
	Args       string
	Write      bool
	Offline    bool
	NoCache    bool
	Background bool
	Immediate  bool
	CacheKey   string
	Frequency  string
}

// NewCallCommand creates the call command.
func NewCallCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CallOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "call <method>",
		Short: "Call a web-service function through the cache",
		Long: `Call a web-service function through the response cache.

With --background a stale cached response is printed first and the
refreshed one after it.

Example:
  rpcabsorber call core_course_get_contents --args '{"courseid":4}' --frequency sometimes`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCall(cmd, opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.Args, "args", "{}", "function arguments as JSON")
	cmd.Flags().BoolVar(&opts.Write, "write", false, "the call changes server state")
	cmd.Flags().BoolVar(&opts.Offline, "offline", false, "answer from the cache only")
	cmd.Flags().BoolVar(&opts.NoCache, "no-cache", false, "neither read nor write the cache")
	cmd.Flags().BoolVar(&opts.Background, "background", false, "print a stale response and refresh it")
	cmd.Flags().BoolVar(&opts.Immediate, "immediate", false, "do not batch the call")
	cmd.Flags().StringVar(&opts.CacheKey, "key", "", "cache key grouping the response")
	cmd.Flags().StringVar(&opts.Frequency, "frequency", "usually", "update frequency (usually|often|sometimes|rarely)")

	return cmd
}

func parseFrequency(s string) (ws.UpdateFrequency, error) {
	for f := ws.FrequencyUsually; f <= ws.FrequencyRarely; f++ {
		if f.String() == s {
			return f, nil
		}
	}
	return 0, fmt.Errorf("invalid frequency %q", s)
}

// directives builds the directives the flags ask for.
func (o *CallOptions) directives() (ws.Directives, error) {
	d := ws.ReadDirectives()
	if o.Write {
		d = ws.WriteDirectives()
	}

	f, err := parseFrequency(o.Frequency)
	if err != nil {
		return d, err
	}
	opts := []ws.Option{ws.WithUpdateFrequency(f)}
	if o.CacheKey != "" {
		opts = append(opts, ws.WithCacheKey(o.CacheKey))
	}
	if o.Offline {
		opts = append(opts, ws.Offline)
	}
	if o.NoCache {
		opts = append(opts, ws.NoCache)
	}
	if o.Background {
		opts = append(opts, ws.InBackground)
	}
	if o.Immediate {
		opts = append(opts, ws.Immediate)
	}
	for _, opt := range opts {
		opt(&d)
	}
	return d, nil
}

func runCall(cmd *cobra.Command, opts *CallOptions, method string) error {
	var args map[string]any
	if err := json.Unmarshal([]byte(opts.Args), &args); err != nil {
		return fmt.Errorf("invalid --args JSON: %w", err)
	}
	d, err := opts.directives()
	if err != nil {
		return err
	}

	client, err := opts.client()
	if err != nil {
		return err
	}
	defer client.Close()

	ctx := commandContext(cmd)
	results, err := client.WS().RequestStream(ctx, method, args, d)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	var last error
	for r := range results {
		if r.Err != nil {
			last = r.Err
			continue
		}
		if opts.Format == "text" && r.Cached {
			fmt.Fprintln(out, "# cached")
		}
		if err := writeJSON(out, opts.Format, r.Data); err != nil {
			return err
		}
	}
	if last != nil {
		return describeError(last)
	}
	return nil
}

// describeError prefixes err with its kind and, for server errors, the
// error code.
func describeError(err error) error {
	var wsErr *ws.WSError
	if errors.As(err, &wsErr) && wsErr.ErrorCode() != "" {
		return fmt.Errorf("%s error %s: %w", ws.Classify(err), wsErr.ErrorCode(), err)
	}
	return fmt.Errorf("%s error: %w", ws.Classify(err), err)
}
