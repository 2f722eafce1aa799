package providers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"brandgen/internal/domain"
)

// OpenAIOptions configures the OpenAI provider.
type OpenAIOptions struct {
	APIKey       string
	BaseURL      string
	Organization string
	HTTPClient   *http.Client
}

// OpenAI serves analysis through chat completions and images through the
// images API.
type OpenAI struct {
	apiKey       string
	baseURL      string
	organization string
	client       *http.Client
}

const openAIName = "openai"

const openAIDefaultTimeout = 60 * time.Second

var openAIModelAliases = map[string]string{
	"gpt4o-mini":             "gpt-4o-mini",
	"gpt4omini":              "gpt-4o-mini",
	"gpt-4o-mini-2024-07-18": "gpt-4o-mini",
	"gpt-image":              "gpt-image-1",
	"gptimage1":              "gpt-image-1",
}

type openAIChatRequest struct {
	Model          string          `json:"model"`
	Messages       []openAIMessage `json:"messages"`
	Temperature    float64         `json:"temperature,omitempty"`
	ResponseFormat *openAIFormat   `json:"response_format,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIFormat struct {
	Type string `json:"type"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

type openAIImageRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	N      int    `json:"n,omitempty"`
	Size   string `json:"size,omitempty"`
}

type openAIImageResponse struct {
	Data []struct {
		B64JSON string `json:"b64_json"`
		URL     string `json:"url"`
	} `json:"data"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type openAIErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// NewOpenAI constructs the provider.
func NewOpenAI(opts OpenAIOptions) *OpenAI {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: openAIDefaultTimeout}
	}
	return &OpenAI{
		apiKey:       strings.TrimSpace(opts.APIKey),
		baseURL:      baseURL,
		organization: strings.TrimSpace(opts.Organization),
		client:       client,
	}
}

func (o *OpenAI) Name() string { return openAIName }

// Supports excludes video; there is no OpenAI video model in the route table.
func (o *OpenAI) Supports(t domain.TaskType) bool {
	return t != domain.TaskVideo
}

func (o *OpenAI) Call(ctx context.Context, call Call) (*Output, error) {
	model := normalizeOpenAIModel(call.Model)
	if o.apiKey == "" {
		return nil, MissingKey(openAIName, model)
	}
	if call.TaskType == domain.TaskAnalysis {
		return o.chat(ctx, model, call)
	}
	return o.images(ctx, model, call)
}

func (o *OpenAI) chat(ctx context.Context, model string, call Call) (*Output, error) {
	payload := openAIChatRequest{
		Model:          model,
		Temperature:    0.4,
		ResponseFormat: &openAIFormat{Type: "json_object"},
	}
	if call.System != "" {
		payload.Messages = append(payload.Messages, openAIMessage{Role: "system", Content: call.System})
	}
	payload.Messages = append(payload.Messages, openAIMessage{Role: "user", Content: call.Prompt})

	var resp openAIChatResponse
	if err := o.post(ctx, model, "/chat/completions", payload, &resp); err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, BadResponse(openAIName, model, errors.New("no choices returned"))
	}
	choice := resp.Choices[0]
	if choice.FinishReason == "content_filter" {
		return nil, Safety(openAIName, model, "completion stopped by content filter")
	}
	text := strings.TrimSpace(choice.Message.Content)
	if text == "" {
		return nil, BadResponse(openAIName, model, errors.New("empty completion"))
	}
	return &Output{
		Text: text,
		Usage: Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}, nil
}

func (o *OpenAI) images(ctx context.Context, model string, call Call) (*Output, error) {
	quantity := clampQuantity(call.Quantity)
	width, height := normalizeAspect(call.AspectRatio)
	payload := openAIImageRequest{
		Model:  model,
		Prompt: buildImagePrompt(call),
		N:      quantity,
		Size:   openAIImageSize(width, height),
	}
	var resp openAIImageResponse
	if err := o.post(ctx, model, "/images/generations", payload, &resp); err != nil {
		return nil, err
	}
	assets := make([]Asset, 0, len(resp.Data))
	for _, item := range resp.Data {
		if item.B64JSON == "" {
			continue
		}
		data, err := base64.StdEncoding.DecodeString(item.B64JSON)
		if err != nil {
			return nil, BadResponse(openAIName, model, fmt.Errorf("decode image: %w", err))
		}
		asset := Asset{Data: data, MIME: "image/png", URL: item.URL, Width: width, Height: height}
		if w, h := decodeImageDimensions(data); w > 0 && h > 0 {
			asset.Width, asset.Height = w, h
		}
		assets = append(assets, asset)
	}
	if len(assets) == 0 {
		return nil, BadResponse(openAIName, model, errors.New("no image data returned"))
	}
	return &Output{
		Assets: assets,
		Usage: Usage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
			Units:        float64(len(assets)),
		},
	}, nil
}

func (o *OpenAI) post(ctx context.Context, model, path string, payload, out any) error {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(payload); err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+path, &buf)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.apiKey)
	if o.organization != "" {
		req.Header.Set("OpenAI-Organization", o.organization)
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return FromTransport(openAIName, model, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		msg := strings.TrimSpace(string(raw))
		var detail openAIErrorResponse
		if err := json.Unmarshal(raw, &detail); err == nil && detail.Error.Message != "" {
			msg = detail.Error.Message
			if detail.Error.Code == "content_policy_violation" {
				return Safety(openAIName, model, msg)
			}
		}
		return FromStatus(openAIName, model, resp.StatusCode, msg)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return BadResponse(openAIName, model, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func normalizeOpenAIModel(model string) string {
	key := strings.ToLower(strings.TrimSpace(model))
	key = strings.ReplaceAll(key, " ", "-")
	if alias, ok := openAIModelAliases[key]; ok {
		return alias
	}
	return key
}

// openAIImageSize picks the closest size the images API accepts.
func openAIImageSize(width, height int) string {
	switch {
	case width > height:
		return "1536x1024"
	case height > width:
		return "1024x1536"
	}
	return "1024x1024"
}
