// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/pdiddy/paper-census/internal/httputil"
	"github.com/pdiddy/paper-census/pkg/types"
)

// semanticScholarBase is the Semantic Scholar paper search endpoint.
// Declared as a var so tests can substitute an httptest server.
var semanticScholarBase = "https://api.semanticscholar.org/graph/v1/paper/search"

// semanticMaxPageSize is the largest limit the API accepts per request.
const semanticMaxPageSize = 100

const semanticFields = "title,abstract,authors,externalIds,venue,year,publicationDate,url"

// SemanticScholarClient collects papers from the Semantic Scholar paper
// search API with venue and year filters, paging by offset.
type SemanticScholarClient struct {
	// HTTPClient may be replaced before first use; it defaults to a client
	// with the configured timeout.
	HTTPClient *http.Client

	cfg     types.CollectionConfig
	breaker *gobreaker.CircuitBreaker
}

// NewSemanticScholarClient builds a Semantic Scholar client from the
// collection settings.
func NewSemanticScholarClient(cfg types.CollectionConfig) *SemanticScholarClient {
	return &SemanticScholarClient{
		HTTPClient: &http.Client{Timeout: cfg.Timeout},
		cfg:        cfg,
		breaker:    newBreaker("semantic_scholar", cfg),
	}
}

// Name returns the client identifier.
func (c *SemanticScholarClient) Name() string { return "semantic_scholar" }

// Collect pages through the papers of venue/year until the API reports no
// next offset or limit is reached.
func (c *SemanticScholarClient) Collect(ctx context.Context, venue string, year int, limit int) ([]types.Paper, error) {
	if strings.TrimSpace(venue) == "" {
		return nil, fmt.Errorf("empty venue")
	}
	if year <= 0 {
		return nil, fmt.Errorf("invalid year %d", year)
	}

	var papers []types.Paper
	offset := 0
	for limit <= 0 || len(papers) < limit {
		pageSize := semanticMaxPageSize
		if limit > 0 && limit-len(papers) < pageSize {
			pageSize = limit - len(papers)
		}

		params := url.Values{
			"query":  {venue},
			"venue":  {venue},
			"year":   {strconv.Itoa(year)},
			"fields": {semanticFields},
			"offset": {strconv.Itoa(offset)},
			"limit":  {strconv.Itoa(pageSize)},
		}

		var page semanticResponse
		if err := c.getJSON(ctx, semanticScholarBase+"?"+params.Encode(), &page); err != nil {
			return nil, err
		}
		if len(page.Data) == 0 {
			break
		}

		for _, paper := range page.Data {
			papers = append(papers, paper.toPaper())
		}

		// next is absent on the last page.
		if page.Next <= 0 {
			break
		}
		offset = page.Next
	}

	if limit > 0 && len(papers) > limit {
		papers = papers[:limit]
	}
	return papers, nil
}

// getJSON performs one GET through the breaker and the 429 retry helper.
func (c *SemanticScholarClient) getJSON(ctx context.Context, reqURL string, v interface{}) error {
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
			return nil, fmt.Errorf("Semantic Scholar API returned HTTP %d", resp.StatusCode)
		}
		return io.ReadAll(resp.Body)
	})
	if err != nil {
		return fmt.Errorf("Semantic Scholar API request: %w", err)
	}

	if err := json.Unmarshal(body.([]byte), v); err != nil {
		return fmt.Errorf("parsing Semantic Scholar response: %w", err)
	}
	return nil
}

// toPaper converts a Semantic Scholar record to the domain record. The
// identifier prefers the arXiv ID, then the DOI, then the internal paper
// id.
func (sp semanticPaper) toPaper() types.Paper {
	p := types.Paper{
		Title:       sp.Title,
		Abstract:    sp.Abstract,
		Venue:       sp.Venue,
		Year:        sp.Year,
		SourceURL:   sp.URL,
		Source:      "semantic_scholar",
		CollectedAt: time.Now().UTC(),
	}

	for _, a := range sp.Authors {
		if a.Name != "" {
			p.Authors = append(p.Authors, a.Name)
		}
	}

	switch {
	case sp.ExternalIDs.ArXiv != "":
		p.ID = sp.ExternalIDs.ArXiv
	case sp.ExternalIDs.DOI != "":
		p.ID = sp.ExternalIDs.DOI
	default:
		p.ID = sp.PaperID
	}
	return p
}

// Semantic Scholar API JSON structures.
type semanticResponse struct {
	Total  int             `json:"total"`
	Offset int             `json:"offset"`
	Next   int             `json:"next"`
	Data   []semanticPaper `json:"data"`
}

type semanticPaper struct {
	PaperID     string              `json:"paperId"`
	Title       string              `json:"title"`
	Abstract    string              `json:"abstract"`
	Venue       string              `json:"venue"`
	Year        int                 `json:"year"`
	URL         string              `json:"url"`
	Authors     []semanticAuthor    `json:"authors"`
	ExternalIDs semanticExternalIDs `json:"externalIds"`
}

type semanticAuthor struct {
	AuthorID string `json:"authorId"`
	Name     string `json:"name"`
}

type semanticExternalIDs struct {
	DOI   string `json:"DOI"`
	ArXiv string `json:"ArXiv"`
}
