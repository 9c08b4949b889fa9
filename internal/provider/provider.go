// Package provider implements the external data sources contributing raw
// evidence about subjects: MedlinePlus (index of health topics, the
// discovery source) and PubMed (supplementary abstracts, fetch-only).
package provider

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/vitalhub/topicsync/internal/resilience"
	"github.com/vitalhub/topicsync/internal/topic"
)

// Provider is one external data source. Orchestrators isolate provider
// errors: a failing provider contributes zero results, never aborts a run.
type Provider interface {
	SourceName() string

	// Discover returns raw data for subjects not in the exclusion set.
	// Exclusion keys are lowercased names.
	Discover(ctx context.Context, exclude map[string]struct{}) ([]topic.RawTopicData, error)

	// Fetch returns this provider's current evidence for one subject, or
	// nil when the provider has nothing for it.
	Fetch(ctx context.Context, name string) (*topic.RawTopicData, error)

	// KnownNames enumerates the provider's current index as lowercased
	// names. Providers without an index return an empty set.
	KnownNames(ctx context.Context) (map[string]struct{}, error)
}

// getString fetches a URL with retry on transient failures and returns the
// response body.
func getString(ctx context.Context, client *http.Client, url string) (string, error) {
	return resilience.DoVal(ctx, resilience.DefaultRetryConfig(), func(ctx context.Context) (string, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return "", eris.Wrapf(err, "provider: build request %s", url)
		}

		resp, err := client.Do(req)
		if err != nil {
			return "", eris.Wrapf(err, "provider: get %s", url)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			err := eris.Errorf("provider: get %s: status %d", url, resp.StatusCode)
			if resilience.IsTransientHTTPStatus(resp.StatusCode) {
				return "", resilience.NewTransientError(err, resp.StatusCode)
			}
			return "", err
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return "", eris.Wrapf(err, "provider: read %s", url)
		}
		return string(body), nil
	})
}

func defaultHTTPClient() *http.Client {
	return &http.Client{Timeout: 60 * time.Second}
}
