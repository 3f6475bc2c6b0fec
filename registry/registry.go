// Package registry supplies the endpoints to harvest.
package registry

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/mitchellh/go-homedir"
)

// Entry is an endpoint and the group it belongs to.
type Entry struct {
	URI   string
	Group string
}

// Source lists endpoints.
type Source interface {
	Endpoints(ctx context.Context) ([]Entry, error)
}

// Static is a fixed list of endpoints.
type Static []Entry

func (s Static) Endpoints(context.Context) ([]Entry, error) {
	return s, nil
}

// ListFile reads one endpoint per line, optionally followed by whitespace
// and a group name. Blank lines and lines starting with # are skipped. A
// path of "-" reads from Stdin.
type ListFile struct {
	Path  string
	Stdin io.Reader
}

func (f ListFile) Endpoints(ctx context.Context) ([]Entry, error) {
	if f.Path == "-" {
		stdin := f.Stdin
		if stdin == nil {
			stdin = os.Stdin
		}
		return Parse(stdin)
	}
	p, err := homedir.Expand(f.Path)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(p)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return Parse(file)
}

// Parse reads an endpoint list. Repeated endpoints are listed once, with
// the group of their first occurrence.
func Parse(r io.Reader) ([]Entry, error) {
	var (
		entries []Entry
		seen    = make(map[string]bool)
		rdr     = bufio.NewReader(r)
		lineno  int
	)
	for {
		line, err := rdr.ReadString('\n')
		if err != nil && err != io.EOF {
			return nil, err
		}
		lineno++
		if e, ok, perr := parseLine(line); perr != nil {
			return nil, fmt.Errorf("line %d: %w", lineno, perr)
		} else if ok && !seen[e.URI] {
			seen[e.URI] = true
			entries = append(entries, e)
		}
		if err == io.EOF {
			break
		}
	}
	return entries, nil
}

func parseLine(line string) (Entry, bool, error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return Entry{}, false, nil
	}
	fields := strings.Fields(line)
	u, err := url.Parse(fields[0])
	if err != nil {
		return Entry{}, false, err
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return Entry{}, false, fmt.Errorf("not an http endpoint: %s", fields[0])
	}
	return Entry{URI: fields[0], Group: strings.Join(fields[1:], " ")}, true, nil
}
