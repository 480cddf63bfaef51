package dataset

import (
	"context"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"genebench/internal/llm"
)

// accessionRe matches GEO-style accessions: a fixed alphabetic prefix
// followed by at least three digits.
var accessionRe = regexp.MustCompile(`\b(?:GSE|GDS|GPL)\d{3,}\b`)

// ExtractAccessions returns the accession tokens found in text, in first-
// mention order, deduplicated.
func ExtractAccessions(text string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, m := range accessionRe.FindAllString(text, -1) {
		if !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}
	return out
}

// Resolver turns an Understanding's data needs into concrete dataset Refs.
type Resolver struct {
	searcher   Searcher
	llmClient  llm.Client
	logger     *zap.Logger
	timeout    time.Duration
	maxResults int
}

// ResolverConfig holds configuration for the resolver.
type ResolverConfig struct {
	Searcher   Searcher
	LLMClient  llm.Client
	Logger     *zap.Logger
	Timeout    time.Duration
	MaxResults int
}

// NewResolver creates a resolver. Searcher and LLMClient are both optional;
// with neither, resolution degrades to direct accession extraction only.
func NewResolver(config ResolverConfig) *Resolver {
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	if config.Timeout <= 0 {
		config.Timeout = 15 * time.Second
	}
	if config.MaxResults <= 0 {
		config.MaxResults = 5
	}
	return &Resolver{
		searcher:   config.Searcher,
		llmClient:  config.LLMClient,
		logger:     config.Logger,
		timeout:    config.Timeout,
		maxResults: config.MaxResults,
	}
}

// Resolve extracts dataset references from the plan's data needs and free
// text. If no accessions appear directly, one secondary search query is
// issued, bounded by the configured timeout; a timeout or error degrades to
// zero datasets rather than failing the run.
func (r *Resolver) Resolve(ctx context.Context, dataNeeded []string, freeText string) []Ref {
	direct := ExtractAccessions(strings.Join(dataNeeded, " ") + " " + freeText)
	if len(direct) > 0 {
		if len(direct) > r.maxResults {
			direct = direct[:r.maxResults]
		}
		return r.enrich(ctx, direct)
	}

	query := strings.TrimSpace(strings.Join(dataNeeded, " "))
	if query == "" {
		query = freeText
	}
	if strings.TrimSpace(query) == "" {
		return nil
	}

	ids := r.secondarySearch(ctx, query)
	if len(ids) == 0 {
		return nil
	}
	return r.enrich(ctx, ids)
}

// secondarySearch races one search-backend (or LLM) query against the
// resolver timeout. The timeout resolves to "no datasets", never a hang.
func (r *Resolver) secondarySearch(ctx context.Context, query string) []string {
	type result struct {
		ids []string
		err error
	}
	resultChan := make(chan result, 1)

	searchCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	go func() {
		ids, err := r.runSecondaryQuery(searchCtx, query)
		resultChan <- result{ids: ids, err: err}
	}()

	select {
	case res := <-resultChan:
		if res.err != nil {
			r.logger.Warn("dataset search failed, continuing without datasets",
				zap.String("query", query), zap.Error(res.err))
			return nil
		}
		if len(res.ids) > r.maxResults {
			res.ids = res.ids[:r.maxResults]
		}
		return res.ids
	case <-searchCtx.Done():
		r.logger.Warn("dataset search timed out, continuing without datasets",
			zap.String("query", query), zap.Duration("timeout", r.timeout))
		return nil
	}
}

func (r *Resolver) runSecondaryQuery(ctx context.Context, query string) ([]string, error) {
	if r.searcher != nil {
		refs, err := r.searcher.Discover(ctx, query, r.maxResults)
		if err != nil {
			return nil, err
		}
		var ids []string
		seen := make(map[string]bool)
		for _, ref := range refs {
			if ref.ID != "" && !seen[ref.ID] {
				seen[ref.ID] = true
				ids = append(ids, ref.ID)
			}
		}
		return ids, nil
	}

	if r.llmClient != nil {
		response, err := r.llmClient.Ask(ctx,
			"List GEO accession numbers (GSE/GDS/GPL) of public datasets relevant to: "+query)
		if err != nil {
			return nil, err
		}
		return ExtractAccessions(response), nil
	}

	return nil, nil
}

// enrich fans out GetInfo lookups for the resolved ids. Lookups that fail
// degrade to a bare Ref carrying only the accession.
func (r *Resolver) enrich(ctx context.Context, ids []string) []Ref {
	refs := make([]Ref, len(ids))
	for i, id := range ids {
		refs[i] = Ref{ID: id, Source: "GEO"}
	}

	if r.searcher == nil {
		return refs
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i := range refs {
		g.Go(func() error {
			info, err := r.searcher.GetInfo(gctx, refs[i].ID)
			if err != nil {
				r.logger.Debug("dataset info lookup failed",
					zap.String("id", refs[i].ID), zap.Error(err))
				return nil
			}
			info.ID = refs[i].ID
			if info.Source == "" {
				info.Source = "GEO"
			}
			refs[i] = info
			return nil
		})
	}
	_ = g.Wait() // individual failures already degraded

	return refs
}

// Dedupe merges refs by ID preserving first-mention order. User-selected
// local datasets win over discovered ones with the same accession.
func Dedupe(refs []Ref) []Ref {
	seen := make(map[string]int)
	var out []Ref
	for _, ref := range refs {
		if idx, ok := seen[ref.ID]; ok {
			if ref.LocalPath != "" && out[idx].LocalPath == "" {
				out[idx] = ref
			}
			continue
		}
		seen[ref.ID] = len(out)
		out = append(out, ref)
	}
	return out
}
