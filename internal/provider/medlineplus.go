package provider

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/vitalhub/topicsync/internal/topic"
)

const (
	medlinePlusSource = "MedlinePlus"

	// minSummaryChars filters out index stubs with no usable content.
	minSummaryChars = 50
)

var (
	xmlURLPattern      = regexp.MustCompile(`xml/mplus_topics_\d{4}-\d{2}-\d{2}\.xml`)
	whitespacePattern  = regexp.MustCompile(`\s{2,}`)
)

// MedlinePlus serves the NIH health-topics XML index. The parsed index is
// cached in memory for the process lifetime: the file is republished daily,
// well below any pass frequency.
type MedlinePlus struct {
	baseURL string
	client  *http.Client

	mu     sync.Mutex
	topics []mpTopic
}

type mpTopic struct {
	Title   string
	Summary string
	Groups  []string
}

// NewMedlinePlus creates the provider. baseURL defaults to the public site.
func NewMedlinePlus(baseURL string, client *http.Client) *MedlinePlus {
	if baseURL == "" {
		baseURL = "https://medlineplus.gov"
	}
	if client == nil {
		client = defaultHTTPClient()
	}
	return &MedlinePlus{baseURL: strings.TrimSuffix(baseURL, "/"), client: client}
}

func (m *MedlinePlus) SourceName() string { return medlinePlusSource }

func (m *MedlinePlus) Discover(ctx context.Context, exclude map[string]struct{}) ([]topic.RawTopicData, error) {
	topics, err := m.load(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "medlineplus: discover")
	}

	var out []topic.RawTopicData
	for _, t := range topics {
		if _, seen := exclude[strings.ToLower(t.Title)]; seen {
			continue
		}
		out = append(out, m.rawData(t))
	}

	zap.L().Info("medlineplus discovery",
		zap.Int("total", len(topics)),
		zap.Int("new", len(out)))
	return out, nil
}

func (m *MedlinePlus) Fetch(ctx context.Context, name string) (*topic.RawTopicData, error) {
	topics, err := m.load(ctx)
	if err != nil {
		return nil, eris.Wrapf(err, "medlineplus: fetch %q", name)
	}

	for _, t := range topics {
		if strings.EqualFold(t.Title, name) {
			data := m.rawData(t)
			data.TopicName = name
			return &data, nil
		}
	}
	return nil, nil
}

func (m *MedlinePlus) KnownNames(ctx context.Context) (map[string]struct{}, error) {
	topics, err := m.load(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "medlineplus: known names")
	}

	names := make(map[string]struct{}, len(topics))
	for _, t := range topics {
		names[strings.ToLower(t.Title)] = struct{}{}
	}
	return names, nil
}

func (m *MedlinePlus) rawData(t mpTopic) topic.RawTopicData {
	return topic.RawTopicData{
		TopicName:  t.Title,
		RawText:    t.Summary,
		SourceName: medlinePlusSource,
		Groups:     t.Groups,
		// Hashing the summary here lets refresh detect unchanged topics
		// without rebuilding the merged source.
		ContentHash: topic.ComputeHash(t.Summary),
	}
}

// load returns the cached index, downloading and parsing it on first use.
func (m *MedlinePlus) load(ctx context.Context) ([]mpTopic, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.topics != nil {
		return m.topics, nil
	}

	xmlURL, err := m.resolveXMLURL(ctx)
	if err != nil {
		return nil, err
	}
	zap.L().Info("medlineplus downloading index", zap.String("url", xmlURL))

	body, err := getString(ctx, m.client, xmlURL)
	if err != nil {
		return nil, err
	}

	topics, err := parseHealthTopics(body)
	if err != nil {
		return nil, err
	}

	zap.L().Info("medlineplus index parsed", zap.Int("topics", len(topics)))
	m.topics = topics
	return topics, nil
}

// resolveXMLURL finds the dated topics file on the download page, falling
// back to today's date when the page layout changes.
func (m *MedlinePlus) resolveXMLURL(ctx context.Context) (string, error) {
	html, err := getString(ctx, m.client, m.baseURL+"/xml.html")
	if err != nil {
		return "", err
	}

	if match := xmlURLPattern.FindString(html); match != "" {
		return m.baseURL + "/" + match, nil
	}

	zap.L().Warn("medlineplus download page had no XML link, trying today's date")
	return fmt.Sprintf("%s/xml/mplus_topics_%s.xml", m.baseURL, time.Now().UTC().Format("2006-01-02")), nil
}

type healthTopicXML struct {
	Language    string   `xml:"language,attr"`
	Title       string   `xml:"title,attr"`
	MetaDesc    string   `xml:"meta-desc,attr"`
	FullSummary string   `xml:"full-summary"`
	Groups      []string `xml:"group"`
}

func parseHealthTopics(body string) ([]mpTopic, error) {
	var doc struct {
		Topics []healthTopicXML `xml:"health-topic"`
	}
	if err := xml.Unmarshal([]byte(body), &doc); err != nil {
		return nil, eris.Wrap(err, "medlineplus: parse index XML")
	}

	var out []mpTopic
	for _, t := range doc.Topics {
		if !strings.EqualFold(t.Language, "English") {
			continue
		}

		title := strings.TrimSpace(t.Title)
		summary := strings.TrimSpace(t.FullSummary)
		if summary == "" {
			summary = strings.TrimSpace(t.MetaDesc)
		}
		if title == "" || summary == "" {
			continue
		}

		clean := stripHTML(summary)
		if len(clean) < minSummaryChars {
			continue
		}

		var groups []string
		for _, g := range t.Groups {
			if g = strings.TrimSpace(g); g != "" {
				groups = append(groups, g)
			}
		}

		out = append(out, mpTopic{Title: title, Summary: clean, Groups: groups})
	}
	return out, nil
}

// stripHTML flattens summary markup to plain text. Summaries arrive as
// escaped HTML fragments (paragraphs, lists, links).
func stripHTML(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return strings.TrimSpace(html)
	}
	text := doc.Text()
	return strings.TrimSpace(whitespacePattern.ReplaceAllString(text, " "))
}
