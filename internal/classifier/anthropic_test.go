package classifier

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitalhub/topicsync/internal/topic"
	"github.com/vitalhub/topicsync/pkg/anthropic"
)

func TestClassifyNames_ValidatesEchoAndTaxonomy(t *testing.T) {
	client := &fakeClient{
		createMessage: func(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
			return textResponse(`{
				"Asthma": "Disease",
				"Jogging": "Non-Medical",
				"Mystery": "Enigma",
				"Never Sent": "Disease"
			}`), nil
		},
	}
	c := newTestClassifier(client)

	got, err := c.ClassifyNames(context.Background(), []NameInput{
		{Name: "Asthma"},
		{Name: "Jogging"},
		{Name: "Mystery"},
	})
	require.NoError(t, err)

	// Invalid taxonomy value and fabricated echo key are both discarded.
	assert.Equal(t, map[string]string{
		"Asthma":  "Disease",
		"Jogging": "Non-Medical",
	}, got)
}

func TestClassifyNames_BatchFailureIsIsolated(t *testing.T) {
	call := 0
	client := &fakeClient{
		createMessage: func(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
			call++
			if call == 1 {
				return nil, errors.New("overloaded")
			}
			return textResponse(`{"Topic 60": "Disease"}`), nil
		},
	}
	c := newTestClassifier(client)

	inputs := make([]NameInput, 0, 60)
	for i := 1; i <= 60; i++ {
		inputs = append(inputs, NameInput{Name: fmt.Sprintf("Topic %d", i)})
	}

	got, err := c.ClassifyNames(context.Background(), inputs)
	require.NoError(t, err)

	// First batch of 50 lost, second batch still classified.
	assert.Equal(t, 2, client.calls)
	assert.Equal(t, map[string]string{"Topic 60": "Disease"}, got)
}

func TestClassifyCategories_MandatoryTypesSkipModel(t *testing.T) {
	client := &fakeClient{
		createMessage: func(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
			return textResponse(`{"Asthma": "Respiratory System"}`), nil
		},
	}
	c := newTestClassifier(client)

	got, err := c.ClassifyCategories(context.Background(), []CategoryInput{
		{Name: "Aspirin", TopicType: topic.TypeDrug},
		{Name: "Asthma", TopicType: topic.TypeDisease},
	})
	require.NoError(t, err)

	assert.Equal(t, "Drugs & Medications", got["Aspirin"])
	assert.Equal(t, "Respiratory System", got["Asthma"])
	assert.Equal(t, 1, client.calls) // only the non-mandatory name went out
}

func TestClassifyCategories_AllMandatoryMakesNoCalls(t *testing.T) {
	client := &fakeClient{
		createMessage: func(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
			t.Fatal("no model call expected")
			return nil, nil
		},
	}
	c := newTestClassifier(client)

	got, err := c.ClassifyCategories(context.Background(), []CategoryInput{
		{Name: "MMR Vaccine", TopicType: topic.TypeVaccine},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"MMR Vaccine": "Preventive Care & Screening"}, got)
}

func TestClassifyCategories_DiscardsInvalidCategory(t *testing.T) {
	client := &fakeClient{
		createMessage: func(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
			return textResponse(`{"Asthma": "Made Up Category"}`), nil
		},
	}
	c := newTestClassifier(client)

	got, err := c.ClassifyCategories(context.Background(), []CategoryInput{
		{Name: "Asthma", TopicType: topic.TypeDisease},
	})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestExtract_FilteredTypeSkipsModel(t *testing.T) {
	client := &fakeClient{
		createMessage: func(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
			t.Fatal("no model call expected")
			return nil, nil
		},
	}
	c := newTestClassifier(client)

	got, err := c.Extract(context.Background(), "some text", topic.TypeDrug, "Aspirin")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestExtract_NormalizesFields(t *testing.T) {
	client := &fakeClient{
		createMessage: func(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
			return textResponse("```json\n" + `{
				"name": "chronic obstructive pulmonary disease (COPD)",
				"summary": "a progressive lung disease that makes breathing difficult over time.",
				"observations": [" shortness of breath", "shortness of breath", "chronic cough"],
				"factors": ["smoking"],
				"actions": [],
				"citations": ["GOLD 2024 Report"],
				"tags": ["Lungs", "BREATHING"]
			}` + "\n```"), nil
		},
	}
	c := newTestClassifier(client)

	got, err := c.Extract(context.Background(), "source text", topic.TypeDisease, "COPD")
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, "Chronic Obstructive Pulmonary Disease (COPD)", got.Name)
	assert.True(t, strings.HasPrefix(got.Summary, "A progressive"))
	assert.Equal(t, []string{"Shortness of breath", "Chronic cough"}, got.Observations)
	assert.Equal(t, []string{"lungs", "breathing"}, got.Tags)
}

func TestExtract_UnusableOutputIsSoftSkip(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"not json", "I could not process this."},
		{"missing name", `{"name": "", "summary": "long enough summary"}`},
		{"missing summary", `{"name": "Asthma", "summary": "  "}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &fakeClient{
				createMessage: func(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
					return textResponse(tt.text), nil
				},
			}
			c := newTestClassifier(client)

			got, err := c.Extract(context.Background(), "text", topic.TypeDisease, "Asthma")
			require.NoError(t, err)
			assert.Nil(t, got)
		})
	}
}

func TestCompareNames_TriState(t *testing.T) {
	existing := &topic.Topic{Name: "Hypertension"}

	tests := []struct {
		name     string
		reply    string
		want     NameComparison
	}{
		{
			name:  "same subject existing preferred",
			reply: `{"same_subject": true, "preferred_name": "Hypertension"}`,
			want:  NameComparison{Outcome: CompareMerge, Preferred: "Hypertension"},
		},
		{
			name:  "same subject candidate preferred",
			reply: `{"same_subject": true, "preferred_name": "High Blood Pressure"}`,
			want:  NameComparison{Outcome: CompareReplace, Preferred: "High Blood Pressure"},
		},
		{
			name:  "different subjects",
			reply: `{"same_subject": false, "preferred_name": ""}`,
			want:  NameComparison{Outcome: CompareDistinct},
		},
		{
			name:  "unoffered preferred name falls back to merge",
			reply: `{"same_subject": true, "preferred_name": "Cardiovascular Disease"}`,
			want:  NameComparison{Outcome: CompareMerge, Preferred: "Hypertension"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &fakeClient{
				createMessage: func(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
					return textResponse(tt.reply), nil
				},
			}
			c := newTestClassifier(client)

			got, err := c.CompareNames(context.Background(), "High Blood Pressure", existing)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMatchLegacyNames_DiscardsFabrications(t *testing.T) {
	client := &fakeClient{
		createMessage: func(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
			return textResponse(`{
				"Hypertension": "High Blood Pressure",
				"Hypertension Extra": "High Blood Pressure",
				"Asthma": "Fabricated Provider Name"
			}`), nil
		},
	}
	c := newTestClassifier(client)

	got, err := c.MatchLegacyNames(context.Background(),
		[]string{"Hypertension", "Asthma"},
		[]string{"High Blood Pressure", "Asthma Attacks"})
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"Hypertension": "High Blood Pressure"}, got)
}

func TestMatchLegacyNames_EmptyInputsMakeNoCalls(t *testing.T) {
	client := &fakeClient{
		createMessage: func(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
			t.Fatal("no model call expected")
			return nil, nil
		},
	}
	c := newTestClassifier(client)

	got, err := c.MatchLegacyNames(context.Background(), nil, []string{"x"})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestCleanJSON(t *testing.T) {
	assert.Equal(t, `{"a": 1}`, cleanJSON("```json\n{\"a\": 1}\n```"))
	assert.Equal(t, `{"a": 1}`, cleanJSON("```\n{\"a\": 1}\n```"))
	assert.Equal(t, `{"a": 1}`, cleanJSON(`Here you go: {"a": 1} hope that helps`))
	assert.Equal(t, `{"a": 1}`, cleanJSON(`{"a": 1}`))
}
