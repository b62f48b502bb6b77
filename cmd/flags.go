package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/pflag"
)

// outputFormat is a pflag.Value restricted to text and json.
type outputFormat string

const (
	formatText outputFormat = "text"
	formatJSON outputFormat = "json"
)

var _ pflag.Value = (*outputFormat)(nil)

func (f *outputFormat) String() string { return string(*f) }

func (f *outputFormat) Set(s string) error {
	switch v := outputFormat(strings.ToLower(s)); v {
	case formatText, formatJSON:
		*f = v
		return nil
	default:
		return fmt.Errorf("unsupported format: %s (supported: text, json)", s)
	}
}

func (f *outputFormat) Type() string { return "format" }

// addFormatFlag registers --format/-f on fs, defaulting to text.
func addFormatFlag(fs *pflag.FlagSet, f *outputFormat) {
	*f = formatText
	fs.VarP(f, "format", "f", "Output format (text, json)")
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
