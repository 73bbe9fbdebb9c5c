package security

import (
	"context"
	"errors"

	"github.com/spaquet/listopia-sub005/internal/models"

	openai "github.com/sashabaranov/go-openai"
)

// Category is a moderation category the gateway classifies against.
type Category string

const (
	CategorySelfHarm   Category = "self_harm"
	CategorySexual     Category = "sexual"
	CategoryViolence   Category = "violence"
	CategoryHarassment Category = "harassment"
	CategoryHate       Category = "hate"
	CategoryOther      Category = "other"
)

// categoryPriority orders categories for picking the dominant violation.
var categoryPriority = []Category{
	CategorySelfHarm,
	CategorySexual,
	CategoryViolence,
	CategoryHarassment,
	CategoryHate,
	CategoryOther,
}

type CategoryResult struct {
	Flagged bool    `json:"flagged"`
	Score   float64 `json:"score"`
}

// ModerationResult carries per-category flags and confidence scores from the
// classification boundary.
type ModerationResult struct {
	Flagged    bool                        `json:"flagged"`
	Categories map[Category]CategoryResult `json:"categories"`
}

// Dominant returns the highest-priority flagged category mapped to its
// violation type. Priority: self-harm > sexual > violence > harassment >
// hate > other.
func (r ModerationResult) Dominant() models.ViolationType {
	for _, cat := range categoryPriority {
		if res, ok := r.Categories[cat]; ok && res.Flagged {
			switch cat {
			case CategorySelfHarm:
				return models.ViolationSelfHarm
			case CategorySexual:
				return models.ViolationSexual
			case CategoryViolence:
				return models.ViolationViolence
			case CategoryHarassment:
				return models.ViolationHarassment
			case CategoryHate:
				return models.ViolationHate
			}
		}
	}
	return models.ViolationOther
}

// MaxScore returns the highest category score, flagged or not.
func (r ModerationResult) MaxScore() float64 {
	var max float64
	for _, res := range r.Categories {
		if res.Score > max {
			max = res.Score
		}
	}
	return max
}

// Classifier is the moderation classification boundary: given text, per-
// category boolean flags and confidence scores.
type Classifier interface {
	Classify(ctx context.Context, text string) (ModerationResult, error)
}

// OpenAIClassifier implements Classifier against the OpenAI moderation
// endpoint.
type OpenAIClassifier struct {
	client *openai.Client
	model  string
}

// NewOpenAIClassifier builds the production moderation classifier.
func NewOpenAIClassifier(apiKey, baseURL, model string) (*OpenAIClassifier, error) {
	if apiKey == "" {
		return nil, errors.New("moderation api key required")
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = openai.ModerationOmniLatest
	}
	return &OpenAIClassifier{client: openai.NewClientWithConfig(cfg), model: model}, nil
}

func (c *OpenAIClassifier) Classify(ctx context.Context, text string) (ModerationResult, error) {
	resp, err := c.client.Moderations(ctx, openai.ModerationRequest{
		Input: text,
		Model: c.model,
	})
	if err != nil {
		return ModerationResult{}, err
	}
	if len(resp.Results) == 0 {
		return ModerationResult{Categories: map[Category]CategoryResult{}}, nil
	}
	res := resp.Results[0]
	out := ModerationResult{
		Flagged: res.Flagged,
		Categories: map[Category]CategoryResult{
			CategorySelfHarm: {
				Flagged: res.Categories.SelfHarm || res.Categories.SelfHarmIntent || res.Categories.SelfHarmInstructions,
				Score:   maxFloat(res.CategoryScores.SelfHarm, res.CategoryScores.SelfHarmIntent, res.CategoryScores.SelfHarmInstructions),
			},
			CategorySexual: {
				Flagged: res.Categories.Sexual || res.Categories.SexualMinors,
				Score:   maxFloat(res.CategoryScores.Sexual, res.CategoryScores.SexualMinors),
			},
			CategoryViolence: {
				Flagged: res.Categories.Violence || res.Categories.ViolenceGraphic,
				Score:   maxFloat(res.CategoryScores.Violence, res.CategoryScores.ViolenceGraphic),
			},
			CategoryHarassment: {
				Flagged: res.Categories.Harassment || res.Categories.HarassmentThreatening,
				Score:   maxFloat(res.CategoryScores.Harassment, res.CategoryScores.HarassmentThreatening),
			},
			CategoryHate: {
				Flagged: res.Categories.Hate || res.Categories.HateThreatening,
				Score:   maxFloat(res.CategoryScores.Hate, res.CategoryScores.HateThreatening),
			},
		},
	}
	return out, nil
}

func maxFloat(vals ...float32) float64 {
	var max float32
	for _, v := range vals {
		if v > max {
			max = v
		}
	}
	return float64(max)
}
