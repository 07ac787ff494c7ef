// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/pdiddy/paper-census/internal/httputil"
	"github.com/pdiddy/paper-census/pkg/types"
)

// openAlexBase is the OpenAlex Works endpoint. Declared as a var so tests
// can substitute an httptest server.
var openAlexBase = "https://api.openalex.org/works"

// openAlexMaxPerPage is the largest page size the API accepts.
const openAlexMaxPerPage = 200

// OpenAlexClient collects papers from the OpenAlex works API, filtering by
// venue container and publication year with cursor pagination.
type OpenAlexClient struct {
	// HTTPClient may be replaced before first use; it defaults to a client
	// with the configured timeout.
	HTTPClient *http.Client

	// Email is sent as the mailto parameter for polite pool access.
	Email string

	cfg     types.CollectionConfig
	breaker *gobreaker.CircuitBreaker
}

// NewOpenAlexClient builds an OpenAlex client from the collection settings.
func NewOpenAlexClient(cfg types.CollectionConfig) *OpenAlexClient {
	return &OpenAlexClient{
		HTTPClient: &http.Client{Timeout: cfg.Timeout},
		cfg:        cfg,
		breaker:    newBreaker("openalex", cfg),
	}
}

// Name returns the client identifier.
func (c *OpenAlexClient) Name() string { return "openalex" }

// Collect pages through the works of venue/year until the API runs out or
// limit is reached.
func (c *OpenAlexClient) Collect(ctx context.Context, venue string, year int, limit int) ([]types.Paper, error) {
	if strings.TrimSpace(venue) == "" {
		return nil, fmt.Errorf("empty venue")
	}
	if year <= 0 {
		return nil, fmt.Errorf("invalid year %d", year)
	}

	filter := fmt.Sprintf("primary_location.source.display_name.search:%s,publication_year:%d", venue, year)

	var papers []types.Paper
	cursor := "*"
	for limit <= 0 || len(papers) < limit {
		perPage := openAlexMaxPerPage
		if limit > 0 && limit-len(papers) < perPage {
			perPage = limit - len(papers)
		}

		params := url.Values{
			"filter":   {filter},
			"per-page": {strconv.Itoa(perPage)},
			"cursor":   {cursor},
		}
		if c.Email != "" {
			params.Set("mailto", c.Email)
		}

		var page openAlexResponse
		if err := c.getJSON(ctx, openAlexBase+"?"+params.Encode(), &page); err != nil {
			return nil, err
		}
		if len(page.Results) == 0 {
			break
		}

		for _, work := range page.Results {
			papers = append(papers, work.toPaper())
		}

		cursor = page.Meta.NextCursor
		if cursor == "" {
			break
		}
	}

	if limit > 0 && len(papers) > limit {
		papers = papers[:limit]
	}
	return papers, nil
}

// getJSON performs one GET through the breaker and the 429 retry helper.
func (c *OpenAlexClient) getJSON(ctx context.Context, reqURL string, v interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	body, err := c.breaker.Execute(func() (interface{}, error) {
		resp, err := httputil.DoWithRetry(ctx, c.HTTPClient, req, c.cfg.MaxRetries)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			io.Copy(io.Discard, resp.Body)
			return nil, fmt.Errorf("OpenAlex API returned HTTP %d", resp.StatusCode)
		}
		return io.ReadAll(resp.Body)
	})
	if err != nil {
		return fmt.Errorf("OpenAlex API request: %w", err)
	}

	if err := json.Unmarshal(body.([]byte), v); err != nil {
		return fmt.Errorf("parsing OpenAlex response: %w", err)
	}
	return nil
}

// toPaper converts an OpenAlex work to the domain record. Venue and year
// come from the work's own metadata so the quality checker can catch
// filter mismatches.
func (w openAlexWork) toPaper() types.Paper {
	p := types.Paper{
		Title:       w.Title,
		Abstract:    reconstructAbstract(w.AbstractInvertedIndex),
		Venue:       w.PrimaryLocation.Source.DisplayName,
		Year:        w.PublicationYear,
		Source:      "openalex",
		CollectedAt: time.Now().UTC(),
	}

	for _, authorship := range w.Authorships {
		if authorship.Author.DisplayName != "" {
			p.Authors = append(p.Authors, authorship.Author.DisplayName)
		}
	}

	// Prefer DOI as identifier since OpenAlex is DOI-centric. Strip the
	// https://doi.org/ prefix to get the bare DOI.
	if w.DOI != "" {
		p.ID = strings.TrimPrefix(w.DOI, "https://doi.org/")
	} else {
		p.ID = w.ID
	}

	if w.OpenAccess.OAURL != "" {
		p.SourceURL = w.OpenAccess.OAURL
	} else {
		p.SourceURL = w.ID
	}
	return p
}

// reconstructAbstract converts OpenAlex's abstract_inverted_index back to
// plain text. The inverted index maps each word to the positions where
// that word appears.
func reconstructAbstract(invertedIndex map[string][]int) string {
	if len(invertedIndex) == 0 {
		return ""
	}

	type posWord struct {
		pos  int
		word string
	}
	var pairs []posWord
	for word, positions := range invertedIndex {
		for _, pos := range positions {
			pairs = append(pairs, posWord{pos: pos, word: word})
		}
	}

	sort.Slice(pairs, func(i, j int) bool {
		return pairs[i].pos < pairs[j].pos
	})

	words := make([]string, len(pairs))
	for i, p := range pairs {
		words[i] = p.word
	}
	return strings.Join(words, " ")
}

// OpenAlex API JSON structures.
type openAlexResponse struct {
	Meta    openAlexMeta   `json:"meta"`
	Results []openAlexWork `json:"results"`
}

type openAlexMeta struct {
	Count      int    `json:"count"`
	NextCursor string `json:"next_cursor"`
}

type openAlexWork struct {
	ID                    string               `json:"id"`
	Title                 string               `json:"title"`
	DOI                   string               `json:"doi"`
	PublicationYear       int                  `json:"publication_year"`
	Authorships           []openAlexAuthorship `json:"authorships"`
	AbstractInvertedIndex map[string][]int     `json:"abstract_inverted_index"`
	PrimaryLocation       openAlexLocation     `json:"primary_location"`
	OpenAccess            openAlexOpenAccess   `json:"open_access"`
}

type openAlexAuthorship struct {
	Author openAlexAuthor `json:"author"`
}

type openAlexAuthor struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

type openAlexLocation struct {
	Source openAlexSource `json:"source"`
}

type openAlexSource struct {
	DisplayName string `json:"display_name"`
}

type openAlexOpenAccess struct {
	IsOA  bool   `json:"is_oa"`
	OAURL string `json:"oa_url"`
}
