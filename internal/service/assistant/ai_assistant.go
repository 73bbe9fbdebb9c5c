package assistant

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"

	"github.com/spaquet/listopia-sub005/internal/config"
	"github.com/spaquet/listopia-sub005/internal/models"
)

// assistantService is a lightweight model client used for auxiliary
// generation (conversation titles), separate from the tool-calling agent.
type assistantService struct {
	chatModel model.ToolCallingChatModel
}

// NewAssistantService builds the title-generation model for a provider.
func NewAssistantService(provider, modelName, token string) (*assistantService, error) {
	var chatModel model.ToolCallingChatModel

	cfgPath := os.Getenv("LISTOPIA_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	provCfg, ok := cfg.Providers[provider]
	if !ok {
		return nil, fmt.Errorf("provider %s not configured", provider)
	}
	if modelName == "" {
		modelName = provCfg.Model
	}

	switch provider {
	case "openai":
		chatModel, err = openai.NewChatModel(context.Background(), &openai.ChatModelConfig{
			BaseURL: provCfg.BaseURL,
			Model:   modelName,
			APIKey:  token})
	case "gemini":
		var client *genai.Client
		client, err = genai.NewClient(context.Background(), &genai.ClientConfig{
			APIKey: token,
		})
		if err != nil {
			return nil, fmt.Errorf("gemini client: %w", err)
		}
		chatModel, err = gemini.NewChatModel(context.Background(), &gemini.Config{
			Client: client,
			Model:  modelName,
		})
	case "claude":
		var baseURLPtr *string
		if provCfg.BaseURL != "" {
			baseURLPtr = &provCfg.BaseURL
		}
		chatModel, err = claude.NewChatModel(context.Background(), &claude.Config{
			APIKey:    token,
			Model:     modelName,
			BaseURL:   baseURLPtr,
			MaxTokens: 1000,
		})
	default:
		return nil, fmt.Errorf("unknown provider: %s", provider)
	}
	if err != nil {
		return nil, fmt.Errorf("init assistant model: %w", err)
	}
	return &assistantService{chatModel: chatModel}, nil
}

// GenerateTitle produces a short conversation title from the opening messages.
func (a *assistantService) GenerateTitle(ctx context.Context, messages []*models.Message) (string, error) {
	if a == nil || a.chatModel == nil {
		return "", errors.New("title model unavailable")
	}
	if len(messages) == 0 {
		return "", nil
	}

	prompt := []*schema.Message{
		{
			Role:    schema.System,
			Content: "Summarize the user's request as a list-planning conversation title of at most six words. Reply with the title only.",
		},
	}
	for _, msg := range messages {
		if msg == nil || msg.Content == "" {
			continue
		}
		prompt = append(prompt, &schema.Message{Role: schema.User, Content: msg.Content})
	}

	out, err := a.chatModel.Generate(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("generate title: %w", err)
	}
	return clampTitle(strings.TrimSpace(strings.Trim(out.Content, `"`))), nil
}

const maxTitleRunes = 80

// clampTitle limits a generated title's length, cutting on a rune boundary.
func clampTitle(title string) string {
	runes := []rune(title)
	if len(runes) <= maxTitleRunes {
		return title
	}
	return string(runes[:maxTitleRunes])
}
