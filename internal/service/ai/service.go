package ai

import (
	"context"
	"fmt"
	"os"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/flow/agent/react"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"

	"github.com/spaquet/listopia-sub005/internal/config"
	"github.com/spaquet/listopia-sub005/internal/service/catalog"
)

const systemPrompt = `You are a task-list assistant. You help the user create, organize, and work through hierarchical task lists.

Rules:
- Use the provided tools for every read or change of list data; never invent list contents.
- When the user references "this list" or "it", pass that phrase through as the list reference; resolution happens server side.
- For large goals (multi-city events, multi-phase projects), prefer create_planned_list so the goal is decomposed into sub-lists.
- Answer concisely and confirm what changed after a mutation.`

// Service runs the tool-calling agent for one provider and API key.
type Service struct {
	agent *react.Agent
}

// NewService builds the chat model for the provider and wires the operation
// catalog into a tool-calling agent.
func NewService(ctx context.Context, provider, modelName, token string, cat *catalog.Service) (*Service, error) {
	cfg, err := config.Load(os.Getenv("LISTOPIA_CONFIG"))
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

	var chatModel model.ToolCallingChatModel
	switch provider {
	case "openai":
		chatModel, err = openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL: provCfg.BaseURL,
			Model:   modelName,
			APIKey:  token,
		})
	case "gemini":
		var client *genai.Client
		client, err = genai.NewClient(ctx, &genai.ClientConfig{APIKey: token})
		if err != nil {
			return nil, fmt.Errorf("gemini client: %w", err)
		}
		chatModel, err = gemini.NewChatModel(ctx, &gemini.Config{
			Client: client,
			Model:  modelName,
		})
	case "claude":
		var baseURLPtr *string
		if provCfg.BaseURL != "" {
			baseURLPtr = &provCfg.BaseURL
		}
		chatModel, err = claude.NewChatModel(ctx, &claude.Config{
			APIKey:    token,
			Model:     modelName,
			BaseURL:   baseURLPtr,
			MaxTokens: 4000,
		})
	default:
		return nil, fmt.Errorf("unknown provider: %s", provider)
	}
	if err != nil {
		return nil, fmt.Errorf("init chat model: %w", err)
	}

	tools, err := buildTools(cat)
	if err != nil {
		return nil, err
	}
	agent, err := react.NewAgent(ctx, &react.AgentConfig{
		ToolCallingModel: chatModel,
		ToolsConfig:      compose.ToolsNodeConfig{Tools: tools},
	})
	if err != nil {
		return nil, fmt.Errorf("init agent: %w", err)
	}
	return &Service{agent: agent}, nil
}

// Run executes one turn: the conversation history goes in, the final
// assistant message comes out. Tool calls run against the session carried
// by ctx; see WithToolSession.
func (s *Service) Run(ctx context.Context, history []*schema.Message) (*schema.Message, error) {
	msgs := make([]*schema.Message, 0, len(history)+1)
	msgs = append(msgs, &schema.Message{Role: schema.System, Content: systemPrompt})
	msgs = append(msgs, history...)

	out, err := s.agent.Generate(ctx, msgs)
	if err != nil {
		return nil, fmt.Errorf("agent turn: %w", err)
	}
	return out, nil
}
