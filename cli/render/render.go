// Package render prints command results as json, jsonl, yaml or an
// aligned key/value table. Without --format a terminal gets the table and
// anything else gets json. Color applies to the table only and is off when
// stdout is not a terminal or --no-color is set.
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"reflect"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"
)

// Format is an output format name.
type Format string

const (
	FormatJSON  Format = "json"
	FormatJSONL Format = "jsonl"
	FormatTable Format = "table"
	FormatYAML  Format = "yaml"
)

// Formats lists the accepted --format values.
var Formats = []Format{FormatJSON, FormatJSONL, FormatTable, FormatYAML}

var keyStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#7C3AED"))

var timeType = reflect.TypeOf(time.Time{})

// ParseFormat is case-insensitive. Empty returns an empty Format so the
// caller can pick a default.
func ParseFormat(s string) (Format, error) {
	if s == "" {
		return "", nil
	}
	f := Format(strings.ToLower(s))
	for _, known := range Formats {
		if f == known {
			return f, nil
		}
	}
	names := make([]string, len(Formats))
	for i, known := range Formats {
		names[i] = string(known)
	}
	return "", fmt.Errorf("invalid format: %q (must be one of %s)", s, strings.Join(names, ", "))
}

// Renderer writes values in one format.
type Renderer struct {
	format  Format
	noColor bool
	out     io.Writer
}

// NewRenderer reads --format and --no-color and writes to stdout.
func NewRenderer(c *cli.Context) (*Renderer, error) {
	format, err := ParseFormat(c.String("format"))
	if err != nil {
		return nil, err
	}
	tty := isTTY(os.Stdout)
	if format == "" {
		format = FormatJSON
		if tty {
			format = FormatTable
		}
	}
	return &Renderer{format: format, noColor: c.Bool("no-color") || !tty, out: os.Stdout}, nil
}

// NewRendererWithWriter builds a renderer over any writer.
func NewRendererWithWriter(format Format, noColor bool, out io.Writer) *Renderer {
	return &Renderer{format: format, noColor: noColor, out: out}
}

func (r *Renderer) Format() Format { return r.format }

// Render writes data followed by a newline.
func (r *Renderer) Render(data any) error {
	switch r.format {
	case FormatJSON, FormatJSONL:
		enc := json.NewEncoder(r.out)
		if r.format == FormatJSON {
			enc.SetIndent("", "  ")
		}
		return enc.Encode(data)
	case FormatYAML:
		enc := yaml.NewEncoder(r.out)
		enc.SetIndent(2)
		if err := enc.Encode(data); err != nil {
			return err
		}
		return enc.Close()
	case FormatTable:
		return r.table(data)
	}
	return fmt.Errorf("unknown format: %s", r.format)
}

// row is one flattened leaf. Nested structs and maps produce dotted keys
// such as pipeline.records or policy.dropped_by_reason.buffer_full.
type row struct {
	key, value string
}

func (r *Renderer) table(data any) error {
	var rows []row
	collect(&rows, "", reflect.ValueOf(data))
	if len(rows) == 0 {
		_, err := fmt.Fprintln(r.out, "(no results)")
		return err
	}

	tw := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
	for _, rw := range rows {
		key := rw.key + ":"
		if !r.noColor {
			key = keyStyle.Render(key)
		}
		fmt.Fprintf(tw, "%s\t%s\n", key, rw.value)
	}
	return tw.Flush()
}

func collect(rows *[]row, key string, v reflect.Value) {
	for v.IsValid() && (v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface) {
		if v.IsNil() {
			return
		}
		v = v.Elem()
	}
	if !v.IsValid() {
		return
	}

	switch {
	case v.Type() == timeType:
		*rows = append(*rows, row{key, v.Interface().(time.Time).Format(time.RFC3339)})
	case v.Kind() == reflect.Struct:
		t := v.Type()
		for i := range t.NumField() {
			name, omitEmpty, ok := jsonName(t.Field(i))
			if !ok || (omitEmpty && v.Field(i).IsZero()) {
				continue
			}
			collect(rows, dotted(key, name), v.Field(i))
		}
	case v.Kind() == reflect.Map:
		byKey := make(map[string]reflect.Value, v.Len())
		for it := v.MapRange(); it.Next(); {
			byKey[fmt.Sprint(it.Key().Interface())] = it.Value()
		}
		keys := make([]string, 0, len(byKey))
		for k := range byKey {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			collect(rows, dotted(key, k), byKey[k])
		}
	case v.Kind() == reflect.Slice || v.Kind() == reflect.Array:
		items := make([]string, v.Len())
		for i := range items {
			items[i] = fmt.Sprint(v.Index(i).Interface())
		}
		*rows = append(*rows, row{key, strings.Join(items, ", ")})
	default:
		*rows = append(*rows, row{key, fmt.Sprint(v.Interface())})
	}
}

func dotted(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}

// jsonName returns the key a field renders under, following its json tag.
func jsonName(f reflect.StructField) (name string, omitEmpty, ok bool) {
	if !f.IsExported() {
		return "", false, false
	}
	tag, opts, _ := strings.Cut(f.Tag.Get("json"), ",")
	if tag == "-" {
		return "", false, false
	}
	if tag == "" {
		tag = strings.ToLower(f.Name)
	}
	return tag, strings.Contains(opts, "omitempty"), true
}

func isTTY(f *os.File) bool {
	info, err := f.Stat()
	return err == nil && info.Mode()&os.ModeCharDevice != 0
}
