// Package output writes the export document and action results to disk or stdout.
package output

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/loykin/botexport/internal/constants"
	"github.com/loykin/botexport/internal/document"
)

type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat accepts json, yaml or yml; empty means json.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unsupported output format %q", s)
	}
}

func (f Format) ext() string {
	if f == FormatYAML {
		return ".yaml"
	}
	return ".json"
}

type Options struct {
	// Path is the target file; DefaultName is used when empty.
	Path   string `mapstructure:"path" yaml:"path"`
	Dir    string `mapstructure:"dir" yaml:"dir"`
	Format Format `mapstructure:"format" yaml:"format"`
	Pretty bool   `mapstructure:"pretty" yaml:"pretty"`
	Stdout bool   `mapstructure:"stdout" yaml:"stdout"`
}

// DefaultName is discord_bot_export_<botid|unknown>_<YYYYmmdd_HHMMSS> plus the
// format extension.
func DefaultName(botID string, at time.Time, f Format) string {
	if botID == "" {
		botID = constants.UnknownBotID
	}
	return fmt.Sprintf("%s_%s_%s%s", constants.DefaultOutputPrefix, botID, at.Format(constants.OutputTimestampLayout), f.ext())
}

// Writer sends encoded output to a directory or to Stdout.
type Writer struct {
	opts   Options
	Stdout io.Writer
}

func New(opts Options) *Writer {
	if opts.Format == "" {
		opts.Format = FormatJSON
	}
	return &Writer{opts: opts, Stdout: os.Stdout}
}

// WriteDocument encodes doc and returns the file written, or "" for stdout.
func (w *Writer) WriteDocument(doc *document.Document, botID string, at time.Time) (string, error) {
	var buf bytes.Buffer
	var err error
	if w.opts.Format == FormatYAML {
		err = doc.EncodeYAML(&buf)
	} else {
		err = doc.EncodeJSON(&buf, w.opts.Pretty)
	}
	if err != nil {
		return "", fmt.Errorf("encode document: %w", err)
	}
	name := w.opts.Path
	if name == "" {
		name = DefaultName(botID, at, w.opts.Format)
	}
	return w.emit(name, buf.Bytes())
}

// WriteResult stores an action response under name, as built by
// dispatch.FileName. Results are always JSON whatever the document format.
func (w *Writer) WriteResult(name string, v document.Value) (string, error) {
	raw := v.Raw()
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = []byte("null")
	}
	var buf bytes.Buffer
	if w.opts.Pretty {
		if err := json.Indent(&buf, raw, "", "  "); err != nil {
			return "", fmt.Errorf("encode result: %w", err)
		}
	} else {
		buf.Write(raw)
	}
	buf.WriteByte('\n')
	return w.emit(name, buf.Bytes())
}

func (w *Writer) emit(name string, data []byte) (string, error) {
	if w.opts.Stdout {
		_, err := w.Stdout.Write(data)
		return "", err
	}
	if w.opts.Dir != "" && !filepath.IsAbs(name) {
		name = filepath.Join(w.opts.Dir, name)
	}
	if dir := filepath.Dir(name); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("create output dir: %w", err)
		}
	}
	if err := os.WriteFile(name, data, constants.DefaultOutputPermission); err != nil {
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	return name, nil
}
