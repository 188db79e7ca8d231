package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/rzpsarthak13/rpc-absorber/internal/core"
)

// writeJSON prints data indented, or compact with --format json so the
// output can be piped.
func writeJSON(w io.Writer, format string, data []byte) error {
	var buf bytes.Buffer
	if format == "json" {
		if err := json.Compact(&buf, data); err != nil {
			return err
		}
	} else if err := json.Indent(&buf, data, "", "  "); err != nil {
		return err
	}
	buf.WriteByte('\n')
	_, err := w.Write(buf.Bytes())
	return err
}

// writeRecords prints records as JSON lines or as a text table.
func writeRecords(w io.Writer, format string, records []core.Record) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		for _, r := range records {
			if err := enc.Encode(r); err != nil {
				return err
			}
		}
		return nil
	}

	if len(records) == 0 {
		_, err := fmt.Fprintln(w, "(no records)")
		return err
	}
	cols := make([]string, 0, len(records[0]))
	for k := range records[0] {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	fmt.Fprintln(w, strings.Join(cols, "\t"))
	for _, r := range records {
		vals := make([]string, len(cols))
		for i, c := range cols {
			vals[i] = core.ToText(r[c])
		}
		fmt.Fprintln(w, strings.Join(vals, "\t"))
	}
	return nil
}
