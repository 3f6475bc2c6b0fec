package oai

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

// RepositoryInfo bundles what a repository says about itself.
type RepositoryInfo struct {
	Endpoint string           `json:"endpoint"`
	Identify *Identify        `json:"identify,omitempty"`
	Formats  []MetadataFormat `json:"formats,omitempty"`
	Sets     []Set            `json:"sets,omitempty"`
	Errors   []string         `json:"errors,omitempty"`
	Elapsed  float64          `json:"elapsed"`
}

// AboutEndpoint issues Identify, ListMetadataFormats and ListSets in
// parallel. Failures of single verbs are collected in Errors; the call fails
// only when ctx ends.
func AboutEndpoint(ctx context.Context, h *Harvester, endpoint string) (*RepositoryInfo, error) {
	start := time.Now()
	info := &RepositoryInfo{Endpoint: endpoint}

	var (
		identify *Identify
		formats  []MetadataFormat
		sets     []Set
		errs     [3]error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		identify, errs[0] = h.Identify(gctx, endpoint)
		return nil
	})
	g.Go(func() error {
		formats, errs[1] = collectFormats(gctx, h, endpoint)
		return nil
	})
	g.Go(func() error {
		sets, errs[2] = collectSets(gctx, h, endpoint)
		return nil
	})
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	info.Identify, info.Formats, info.Sets = identify, formats, sets
	for _, err := range errs {
		if err != nil {
			info.Errors = append(info.Errors, err.Error())
		}
	}
	info.Elapsed = time.Since(start).Seconds()
	return info, nil
}

func collectFormats(ctx context.Context, h *Harvester, endpoint string) ([]MetadataFormat, error) {
	var formats []MetadataFormat
	s := h.Open(Request{Endpoint: endpoint, Verb: VerbListMetadataFormats})
	for s.Next(ctx) {
		formats = append(formats, s.Page().Formats...)
	}
	return formats, s.Err()
}

func collectSets(ctx context.Context, h *Harvester, endpoint string) ([]Set, error) {
	var sets []Set
	s := h.Open(Request{Endpoint: endpoint, Verb: VerbListSets})
	for s.Next(ctx) {
		sets = append(sets, s.Page().Sets...)
	}
	return sets, s.Err()
}
