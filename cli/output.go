package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
)

// Values of the global -o flag.
const (
	formatText = "text"
	formatJSON = "json"
)

func validateFormat(s string) error {
	switch s {
	case "", formatText, formatJSON:
		return nil
	}
	return fmt.Errorf("invalid output format %q: must be %q or %q", s, formatText, formatJSON)
}

// printer writes command results. With -o json every command prints a
// single JSON document on stdout and stays silent on stderr, so scripts
// can pipe it straight into jq.
type printer struct {
	json   bool
	out    io.Writer
	errOut io.Writer
}

// print writes v as indented JSON, or calls text with stdout.
func (p printer) print(v any, text func(w io.Writer)) error {
	if !p.json {
		text(p.out)
		return nil
	}
	enc := json.NewEncoder(p.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// notice writes a hint for people to stderr. Nothing is written in JSON
// mode.
func (p printer) notice(format string, args ...any) {
	if p.json {
		return
	}
	fmt.Fprintf(p.errOut, format+"\n", args...)
}

// table writes rows as aligned columns under header.
func table(w io.Writer, header []string, rows [][]string) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(header, "\t"))
	for _, row := range rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	_ = tw.Flush()
}

// marked prefixes the first column of the selected row with "* ".
func marked(selected bool, s string) string {
	if selected {
		return "* " + s
	}
	return "  " + s
}
