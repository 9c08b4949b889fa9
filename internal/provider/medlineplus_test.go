package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTopicsXML = `<?xml version="1.0" encoding="UTF-8"?>
<health-topics total="3" date-generated="2026-08-29">
  <health-topic title="Asthma" language="English" id="1">
    <full-summary>&lt;p&gt;Asthma is a chronic disease that affects your airways. Your airways are tubes that carry air in and out of your lungs.&lt;/p&gt;</full-summary>
    <group id="28">Lung Diseases</group>
  </health-topic>
  <health-topic title="Asma" language="Spanish" id="2">
    <full-summary>El asma es una enfermedad cronica que afecta las vias respiratorias de los pulmones.</full-summary>
  </health-topic>
  <health-topic title="Stub" language="English" id="3">
    <full-summary>Too short.</full-summary>
  </health-topic>
  <health-topic title="Diabetes" language="English" id="4" meta-desc="Diabetes is a disease in which your blood glucose, or blood sugar, levels are too high over time.">
  </health-topic>
</health-topics>`

func newMedlinePlusServer(t *testing.T) (*MedlinePlus, *atomic.Int32) {
	t.Helper()
	var xmlDownloads atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/xml.html", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<a href="xml/mplus_topics_2026-08-29.xml">download</a>`)) //nolint:errcheck
	})
	mux.HandleFunc("/xml/mplus_topics_2026-08-29.xml", func(w http.ResponseWriter, r *http.Request) {
		xmlDownloads.Add(1)
		w.Write([]byte(testTopicsXML)) //nolint:errcheck
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return NewMedlinePlus(srv.URL, srv.Client()), &xmlDownloads
}

func TestMedlinePlus_Discover(t *testing.T) {
	mp, _ := newMedlinePlusServer(t)

	got, err := mp.Discover(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, got, 2) // Spanish and too-short entries filtered

	assert.Equal(t, "Asthma", got[0].TopicName)
	assert.Equal(t, "MedlinePlus", got[0].SourceName)
	assert.Equal(t, []string{"Lung Diseases"}, got[0].Groups)
	// HTML is flattened to plain text.
	assert.NotContains(t, got[0].RawText, "<p>")
	assert.Contains(t, got[0].RawText, "chronic disease that affects your airways")
	assert.NotEmpty(t, got[0].ContentHash)

	// meta-desc is the fallback when full-summary is absent.
	assert.Equal(t, "Diabetes", got[1].TopicName)
	assert.Contains(t, got[1].RawText, "blood glucose")
}

func TestMedlinePlus_DiscoverExcludesKnownNames(t *testing.T) {
	mp, _ := newMedlinePlusServer(t)

	got, err := mp.Discover(context.Background(), map[string]struct{}{"asthma": {}})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Diabetes", got[0].TopicName)
}

func TestMedlinePlus_FetchCaseInsensitive(t *testing.T) {
	mp, _ := newMedlinePlusServer(t)

	got, err := mp.Fetch(context.Background(), "ASTHMA")
	require.NoError(t, err)
	require.NotNil(t, got)
	// The caller's spelling is preserved for originalName bookkeeping.
	assert.Equal(t, "ASTHMA", got.TopicName)

	missing, err := mp.Fetch(context.Background(), "Unknown Topic")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestMedlinePlus_IndexDownloadedOnce(t *testing.T) {
	mp, downloads := newMedlinePlusServer(t)
	ctx := context.Background()

	_, err := mp.Discover(ctx, nil)
	require.NoError(t, err)
	_, err = mp.KnownNames(ctx)
	require.NoError(t, err)
	_, err = mp.Fetch(ctx, "Asthma")
	require.NoError(t, err)

	assert.Equal(t, int32(1), downloads.Load())
}

func TestMedlinePlus_KnownNamesLowercased(t *testing.T) {
	mp, _ := newMedlinePlusServer(t)

	names, err := mp.KnownNames(context.Background())
	require.NoError(t, err)
	assert.Contains(t, names, "asthma")
	assert.Contains(t, names, "diabetes")
	assert.NotContains(t, names, "Asthma")
}

func TestMedlinePlus_ServerErrorSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	mp := NewMedlinePlus(srv.URL, srv.Client())
	_, err := mp.Discover(context.Background(), nil)
	require.Error(t, err)
}
