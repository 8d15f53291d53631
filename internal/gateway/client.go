package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/color2333/vibingu/internal/config"
	"github.com/color2333/vibingu/internal/types"
	openai "github.com/sashabaranov/go-openai"
)

// Message is a single chat turn handed to the upstream client.
type Message struct {
	Role    string
	Content string
}

// upstreamClient is the seam the Gateway calls through; the real
// implementation wraps sashabaranov/go-openai, and tests substitute a fake.
type upstreamClient interface {
	ChatCompletion(ctx context.Context, model string, messages []Message, jsonMode bool) (string, types.Usage, error)
	VisionCompletion(ctx context.Context, model, prompt, imageBase64 string, jsonMode bool) (string, types.Usage, error)
	Embedding(ctx context.Context, model, text string) ([]float32, types.Usage, error)
	ChatCompletionStream(ctx context.Context, model string, messages []Message, onToken func(string)) (types.Usage, error)
}

// openAIClient implements upstreamClient against the OpenAI-compatible
// endpoint configured for either provider (spec.md §6 — OpenAI and Zhipu
// both speak this wire format).
type openAIClient struct {
	client *openai.Client
}

func newOpenAIClient(cfg *config.Config) *openAIClient {
	var oaCfg openai.ClientConfig
	switch cfg.AIProvider {
	case config.ProviderZhipu:
		oaCfg = openai.DefaultConfig(cfg.ZhipuAPIKey)
		if cfg.ZhipuBaseURL != "" {
			oaCfg.BaseURL = cfg.ZhipuBaseURL
		} else {
			oaCfg.BaseURL = "https://open.bigmodel.cn/api/paas/v4"
		}
	default:
		oaCfg = openai.DefaultConfig(cfg.OpenAIAPIKey)
		if cfg.OpenAIBaseURL != "" {
			oaCfg.BaseURL = cfg.OpenAIBaseURL
		}
	}
	return &openAIClient{client: openai.NewClientWithConfig(oaCfg)}
}

func (c *openAIClient) ChatCompletion(
	ctx context.Context, model string, messages []Message, jsonMode bool,
) (string, types.Usage, error) {
	req := openai.ChatCompletionRequest{
		Model:    model,
		Messages: toOpenAIMessages(messages),
	}
	if jsonMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}
	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", types.Usage{}, err
	}
	if len(resp.Choices) == 0 {
		return "", types.Usage{}, fmt.Errorf("upstream returned no choices")
	}
	return resp.Choices[0].Message.Content, usageFrom(resp.Usage), nil
}

func (c *openAIClient) VisionCompletion(
	ctx context.Context, model, prompt, imageBase64 string, jsonMode bool,
) (string, types.Usage, error) {
	req := openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: prompt},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL: "data:image/jpeg;base64," + imageBase64,
						},
					},
				},
			},
		},
	}
	if jsonMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}
	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", types.Usage{}, err
	}
	if len(resp.Choices) == 0 {
		return "", types.Usage{}, fmt.Errorf("upstream returned no choices")
	}
	return resp.Choices[0].Message.Content, usageFrom(resp.Usage), nil
}

// ChatCompletionStream streams token deltas through onToken as they arrive,
// yielding control back to the caller after every chunk (spec.md §5 —
// "each token chunk yields control back to the network writer before
// requesting the next"). The final usage total rides on the stream's
// closing chunk via StreamOptions.IncludeUsage.
func (c *openAIClient) ChatCompletionStream(
	ctx context.Context, model string, messages []Message, onToken func(string),
) (types.Usage, error) {
	req := openai.ChatCompletionRequest{
		Model:         model,
		Messages:      toOpenAIMessages(messages),
		Stream:        true,
		StreamOptions: &openai.StreamOptions{IncludeUsage: true},
	}
	stream, err := c.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return types.Usage{}, err
	}
	defer stream.Close()

	var usage types.Usage
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return usage, err
		}
		if len(resp.Choices) > 0 && resp.Choices[0].Delta.Content != "" {
			onToken(resp.Choices[0].Delta.Content)
		}
		if resp.Usage != nil {
			usage = usageFrom(*resp.Usage)
		}
	}
	return usage, nil
}

func (c *openAIClient) Embedding(ctx context.Context, model, text string) ([]float32, types.Usage, error) {
	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input: []string{text},
		Model: openai.EmbeddingModel(model),
	})
	if err != nil {
		return nil, types.Usage{}, err
	}
	if len(resp.Data) == 0 {
		return nil, types.Usage{}, fmt.Errorf("upstream returned no embeddings")
	}
	return resp.Data[0].Embedding, usageFrom(resp.Usage), nil
}

func toOpenAIMessages(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	return out
}

func usageFrom(u openai.Usage) types.Usage {
	return types.Usage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	}
}
