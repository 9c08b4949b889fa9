package provider

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/vitalhub/topicsync/internal/topic"
)

const (
	pubMedSource     = "PubMed"
	pubMedMaxResults = 5
)

// PubMed supplements topics with review-article abstracts via the NCBI
// E-utilities. It has no browsable index, so it is fetch-only: Discover and
// KnownNames contribute nothing.
type PubMed struct {
	baseURL string
	apiKey  string
	client  *http.Client
	limiter *rate.Limiter
}

// NewPubMed creates the provider. baseURL defaults to the public
// E-utilities endpoint.
func NewPubMed(baseURL, apiKey string, client *http.Client) *PubMed {
	if baseURL == "" {
		baseURL = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"
	}
	if client == nil {
		client = defaultHTTPClient()
	}
	return &PubMed{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		client:  client,
		// NCBI allows 3 req/s without a key; stay under it.
		limiter: rate.NewLimiter(rate.Every(350*time.Millisecond), 1),
	}
}

func (p *PubMed) SourceName() string { return pubMedSource }

func (p *PubMed) Discover(ctx context.Context, exclude map[string]struct{}) ([]topic.RawTopicData, error) {
	return nil, nil
}

func (p *PubMed) KnownNames(ctx context.Context) (map[string]struct{}, error) {
	return map[string]struct{}{}, nil
}

func (p *PubMed) Fetch(ctx context.Context, name string) (*topic.RawTopicData, error) {
	ids, err := p.searchArticleIDs(ctx, name+" AND review[pt]")
	if err != nil {
		return nil, eris.Wrapf(err, "pubmed: fetch %q", name)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	text, err := p.fetchAbstracts(ctx, ids)
	if err != nil {
		return nil, eris.Wrapf(err, "pubmed: fetch %q", name)
	}
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	return &topic.RawTopicData{
		TopicName:  name,
		RawText:    text,
		SourceName: pubMedSource,
	}, nil
}

func (p *PubMed) searchArticleIDs(ctx context.Context, query string) ([]string, error) {
	u := fmt.Sprintf("%s/esearch.fcgi?db=pubmed&term=%s&retmax=%d&sort=relevance&retmode=json",
		p.baseURL, url.QueryEscape(query), pubMedMaxResults)

	body, err := p.get(ctx, u)
	if err != nil {
		return nil, err
	}

	var res struct {
		ESearchResult struct {
			Error  string   `json:"ERROR"`
			IDList []string `json:"idlist"`
		} `json:"esearchresult"`
	}
	if err := json.Unmarshal([]byte(body), &res); err != nil {
		return nil, eris.Wrap(err, "pubmed: parse esearch response")
	}
	if res.ESearchResult.Error != "" {
		return nil, eris.Errorf("pubmed: esearch error: %s", res.ESearchResult.Error)
	}

	zap.L().Debug("pubmed search", zap.Int("ids", len(res.ESearchResult.IDList)))
	return res.ESearchResult.IDList, nil
}

func (p *PubMed) fetchAbstracts(ctx context.Context, ids []string) (string, error) {
	u := fmt.Sprintf("%s/efetch.fcgi?db=pubmed&id=%s&retmode=xml&rettype=abstract",
		p.baseURL, strings.Join(ids, ","))

	body, err := p.get(ctx, u)
	if err != nil {
		return "", err
	}

	var res struct {
		Abstracts []string `xml:"PubmedArticle>MedlineCitation>Article>Abstract>AbstractText"`
	}
	if err := xml.Unmarshal([]byte(body), &res); err != nil {
		return "", eris.Wrap(err, "pubmed: parse efetch response")
	}

	var parts []string
	for _, a := range res.Abstracts {
		if a = strings.TrimSpace(a); a != "" {
			parts = append(parts, a)
		}
	}
	return strings.Join(parts, "\n\n"), nil
}

func (p *PubMed) get(ctx context.Context, u string) (string, error) {
	if p.apiKey != "" {
		u += "&api_key=" + url.QueryEscape(p.apiKey)
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return "", eris.Wrap(err, "pubmed: rate limit wait")
	}
	return getString(ctx, p.client, u)
}
