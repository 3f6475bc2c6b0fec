// Package output stores harvested records.
package output

import (
	"context"
	"encoding/base64"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mitchellh/go-homedir"

	"github.com/clarin-eric/oai-harvest-manager-sub001/logger"
	"github.com/clarin-eric/oai-harvest-manager-sub001/scenario"
)

// Discard acknowledges every record and stores nothing.
var Discard scenario.Output = discard{}

type discard struct{}

func (discard) Put(context.Context, scenario.Metadata) error { return nil }
func (discard) Close() error                                 { return nil }

// FileSink writes one XML document per endpoint and prefix. A document is
// committed when its endpoint finishes successfully and dropped when it
// fails, so a directory never holds a partial harvest.
type FileSink struct {
	dir string
	now func() time.Time
	log logger.Logger

	mu    sync.Mutex
	files map[fileKey]*MaybeCompressedFile
}

type fileKey struct {
	endpoint string
	prefix   string
}

// SinkOption configures a FileSink.
type SinkOption func(*FileSink)

// WithClock replaces time.Now, which names the files.
func WithClock(now func() time.Time) SinkOption {
	return func(s *FileSink) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) SinkOption {
	return func(s *FileSink) { s.log = l }
}

// NewFileSink writes below dir; a leading tilde is expanded.
func NewFileSink(dir string, opts ...SinkOption) (*FileSink, error) {
	d, err := homedir.Expand(dir)
	if err != nil {
		return nil, err
	}
	s := &FileSink{
		dir:   d,
		now:   time.Now,
		log:   logger.NewNop(),
		files: make(map[fileKey]*MaybeCompressedFile),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Fingerprint returns a encoded version of the full endpoint URL.
func Fingerprint(endpoint string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(endpoint))
}

// Path returns the file a record ends up in:
// <dir>/<host>/<prefix>/<fingerprint>/<from>-<until>.xml. The name only
// carries date information; the file may be gzip compressed.
func (s *FileSink) Path(m scenario.Metadata) string {
	host := "unknown"
	if u, err := url.Parse(m.EndpointURI); err == nil && u.Host != "" {
		host = u.Host
	}
	name := fmt.Sprintf("%s-%s.xml", m.From.UTC().Format("2006-01-02"), s.now().UTC().Format("2006-01-02"))
	return filepath.Join(s.dir, host, m.Prefix, Fingerprint(m.EndpointURI), name)
}

// Put appends a record to the document of its endpoint and prefix. Records
// of one endpoint must come from a single goroutine.
func (s *FileSink) Put(ctx context.Context, m scenario.Metadata) error {
	f, err := s.file(m)
	if err != nil {
		return err
	}
	rec := struct {
		XMLName    xml.Name `xml:"record"`
		Identifier string   `xml:"identifier,attr"`
		Datestamp  string   `xml:"datestamp,attr,omitempty"`
		Payload    []byte   `xml:",innerxml"`
	}{Identifier: m.ID(), Datestamp: m.Datestamp, Payload: m.Payload}
	b, err := xml.Marshal(rec)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(b, '\n')); err != nil {
		return err
	}
	return nil
}

func (s *FileSink) file(m scenario.Metadata) (*MaybeCompressedFile, error) {
	k := fileKey{endpoint: m.EndpointURI, prefix: m.Prefix}
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.files[k]; ok {
		return f, nil
	}
	f := CreateMaybeCompressedFile(s.Path(m))
	if _, err := fmt.Fprintf(f, "<records endpoint=\"%s\" prefix=\"%s\">\n", escape(m.EndpointURI), escape(m.Prefix)); err != nil {
		f.Abort()
		return nil, err
	}
	s.files[k] = f
	return f, nil
}

func escape(s string) string {
	var sb strings.Builder
	xml.EscapeText(&sb, []byte(s))
	return sb.String()
}

// Finish commits or drops the documents of endpoint.
func (s *FileSink) Finish(endpoint string, success bool) error {
	s.mu.Lock()
	var files []*MaybeCompressedFile
	for k, f := range s.files {
		if k.endpoint == endpoint {
			files = append(files, f)
			delete(s.files, k)
		}
	}
	s.mu.Unlock()

	var errs []error
	for _, f := range files {
		if !success {
			errs = append(errs, f.Abort())
			continue
		}
		errs = append(errs, commit(f))
		s.log.Debug("output written", logger.String("file", f.Name()), logger.Int("bytes", f.Written()))
	}
	return errors.Join(errs...)
}

func commit(f *MaybeCompressedFile) error {
	if _, err := io.WriteString(f, "</records>\n"); err != nil {
		f.Abort()
		return err
	}
	return f.Close()
}

// Close commits all documents still open, in a stable order.
func (s *FileSink) Close() error {
	s.mu.Lock()
	keys := make([]fileKey, 0, len(s.files))
	for k := range s.files {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].endpoint != keys[j].endpoint {
			return keys[i].endpoint < keys[j].endpoint
		}
		return keys[i].prefix < keys[j].prefix
	})
	files := make([]*MaybeCompressedFile, len(keys))
	for i, k := range keys {
		files[i] = s.files[k]
	}
	s.files = make(map[fileKey]*MaybeCompressedFile)
	s.mu.Unlock()

	var errs []error
	for _, f := range files {
		errs = append(errs, commit(f))
	}
	return errors.Join(errs...)
}
