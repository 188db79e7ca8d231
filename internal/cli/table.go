package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rzpsarthak13/rpc-absorber/internal/core"
)

// NewTableCommand creates the table command group.
func NewTableCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "table",
		Short: "Inspect the tables of the configured store",
	}

	cmd.AddCommand(newTableListCommand(rootOpts))
	cmd.AddCommand(newTableDescribeCommand(rootOpts))
	cmd.AddCommand(newTableGetCommand(rootOpts))

	return cmd
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func newTableListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List the tables of a SQL store",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			defer client.Close()

			names, err := client.ListTables(commandContext(cmd))
			if err != nil {
				return err
			}
			if opts.Format == "json" {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(names)
			}
			for _, n := range names {
				fmt.Fprintln(cmd.OutOrStdout(), n)
			}
			return nil
		},
	}
}

func newTableDescribeCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "describe <table>",
		Short:         "Show the columns and keys of a table",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			defer client.Close()

			sc, err := client.DescribeTable(commandContext(cmd), args[0])
			if err != nil {
				return err
			}
			if opts.Format == "json" {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(sc)
			}
			return writeSchema(cmd, sc)
		},
	}
}

func writeSchema(cmd *cobra.Command, sc *core.Schema) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "table: %s\nprimary key: %s\n\n", sc.TableName, strings.Join(sc.PrimaryKeys, ", "))

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "COLUMN\tTYPE\tNULLABLE")
	for _, c := range sc.Columns {
		fmt.Fprintf(tw, "%s\t%s\t%t\n", c.Name, c.Type, c.Nullable)
	}
	return tw.Flush()
}

// TableGetOptions holds flags for table get.
type TableGetOptions struct {
	*RootOptions
	Where  string
	Limit  int
	Offset int
	Sort   string
}

func newTableGetCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TableGetOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "get <table>",
		Short: "Print the records of a table",
		Long: `Print the records of a table matching an equality filter.

Example:
  rpcabsorber table get wscache --where '{"key":"course:4"}' --limit 10`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTableGet(cmd, opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.Where, "where", "{}", "equality filter as JSON")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum number of records (0 for all)")
	cmd.Flags().IntVar(&opts.Offset, "offset", 0, "records to skip")
	cmd.Flags().StringVar(&opts.Sort, "sort", "", "column to sort by, prefixed with - for descending")

	return cmd
}

func (o *TableGetOptions) query() core.Query {
	q := core.Query{Limit: o.Limit, Offset: o.Offset}
	if o.Sort != "" {
		col, desc := strings.CutPrefix(o.Sort, "-")
		q.Sort = []core.Sort{{Column: col, Desc: desc}}
	}
	return q
}

func runTableGet(cmd *cobra.Command, opts *TableGetOptions, name string) error {
	var where core.Record
	if err := json.Unmarshal([]byte(opts.Where), &where); err != nil {
		return fmt.Errorf("invalid --where JSON: %w", err)
	}

	client, err := opts.client()
	if err != nil {
		return err
	}
	defer client.Close()

	ctx := commandContext(cmd)
	sc, err := client.DescribeTable(ctx, name)
	if err != nil {
		return err
	}
	t, err := client.Table(ctx, name, sc)
	if err != nil {
		return err
	}
	records, err := t.GetMany(ctx, where, opts.query())
	if err != nil {
		return err
	}
	return writeRecords(cmd.OutOrStdout(), opts.Format, records)
}
