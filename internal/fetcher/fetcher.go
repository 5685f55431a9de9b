// Package fetcher loads scraper candidate batches from local files, HTTP(S)
// and FTP sources in JSON, CSV or XLSX form.
package fetcher

import (
	"context"
	"io"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Format is a candidate file encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// DetectFormat infers the format from the source's extension, ignoring any
// query string.
func DetectFormat(src string) (Format, error) {
	p := src
	if u, err := url.Parse(src); err == nil && u.Scheme != "" && u.Host != "" {
		p = u.Path
	}
	switch ext := strings.ToLower(path.Ext(p)); ext {
	case ".json":
		return FormatJSON, nil
	case ".csv":
		return FormatCSV, nil
	case ".xlsx":
		return FormatXLSX, nil
	default:
		return "", eris.Errorf("fetcher: unsupported source format %q", ext)
	}
}

// Options configures a Loader.
type Options struct {
	Timeout           time.Duration
	UserAgent         string
	MaxRetries        int
	RequestsPerSecond float64
}

// Loader resolves a source string to candidate maps.
type Loader struct {
	http *HTTPFetcher
	ftp  *FTPFetcher
}

// NewLoader creates a Loader.
func NewLoader(opts Options) *Loader {
	return &Loader{
		http: NewHTTPFetcher(HTTPOptions{
			UserAgent:         opts.UserAgent,
			Timeout:           opts.Timeout,
			MaxRetries:        opts.MaxRetries,
			RequestsPerSecond: opts.RequestsPerSecond,
		}),
		ftp: NewFTPFetcher(FTPOptions{Timeout: opts.Timeout}),
	}
}

// Load reads every candidate from src, which is a local path or an
// http(s):// or ftp:// URL.
func (l *Loader) Load(ctx context.Context, src string) ([]map[string]any, error) {
	format, err := DetectFormat(src)
	if err != nil {
		return nil, err
	}

	rc, err := l.open(ctx, src)
	if err != nil {
		return nil, err
	}
	defer rc.Close() //nolint:errcheck

	var out []map[string]any
	switch format {
	case FormatJSON:
		out, err = DecodeCandidates(ctx, rc)
	case FormatCSV:
		out, err = CSVCandidates(ctx, rc)
	case FormatXLSX:
		out, err = xlsxFromReader(rc)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: load %s", src)
	}

	zap.L().Info("loaded candidates",
		zap.String("component", "fetcher"),
		zap.String("source", src),
		zap.String("format", string(format)),
		zap.Int("count", len(out)),
	)
	return out, nil
}

func (l *Loader) open(ctx context.Context, src string) (io.ReadCloser, error) {
	u, err := url.Parse(src)
	if err == nil {
		switch strings.ToLower(u.Scheme) {
		case "http", "https":
			return l.http.Download(ctx, src)
		case "ftp":
			return l.ftp.Download(ctx, src)
		case "file":
			src = u.Path
		}
	}

	f, err := os.Open(src)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: open %s", src)
	}
	return f, nil
}

// xlsxFromReader spools r to a temp file so the workbook can be opened by
// path.
func xlsxFromReader(r io.Reader) ([]map[string]any, error) {
	if f, ok := r.(*os.File); ok {
		return XLSXCandidates(f.Name(), XLSXOptions{})
	}

	tmp, err := os.CreateTemp("", "jobstore-*.xlsx")
	if err != nil {
		return nil, eris.Wrap(err, "xlsx: create temp file")
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		return nil, eris.Wrap(err, "xlsx: spool download")
	}
	if err := tmp.Close(); err != nil {
		return nil, eris.Wrap(err, "xlsx: close temp file")
	}
	return XLSXCandidates(tmp.Name(), XLSXOptions{})
}

// rowsToCandidates zips each row with header. Header names are lower-cased
// with inner spaces turned into underscores. Blank header cells and empty
// values are dropped; fully blank rows are skipped.
func rowsToCandidates(header []string, rows [][]string) []map[string]any {
	keys := make([]string, len(header))
	for i, h := range header {
		keys[i] = strings.ToLower(strings.Join(strings.Fields(h), "_"))
	}

	out := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		m := make(map[string]any, len(keys))
		for i, v := range row {
			if i >= len(keys) || keys[i] == "" {
				continue
			}
			if v = strings.TrimSpace(v); v != "" {
				m[keys[i]] = v
			}
		}
		if len(m) > 0 {
			out = append(out, m)
		}
	}
	return out
}
