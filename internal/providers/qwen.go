package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"brandgen/internal/domain"
	"brandgen/internal/infra"
)

// QwenOptions configures the DashScope Qwen provider.
type QwenOptions struct {
	APIKey       string
	BaseURL      string
	PromptExtend bool
	Watermark    bool
	HTTPClient   *http.Client
	Logger       *infra.Logger
}

// Qwen performs DashScope multimodal image generation. The API returns one
// image per request, so quantity is served by sequential calls.
type Qwen struct {
	apiKey       string
	baseURL      string
	promptExtend bool
	watermark    bool
	httpClient   *http.Client
	logger       *infra.Logger
}

const qwenName = "qwen"

type qwenRequest struct {
	Model      string     `json:"model"`
	Input      qwenInput  `json:"input"`
	Parameters qwenParams `json:"parameters"`
}

type qwenInput struct {
	Messages []qwenMessage `json:"messages"`
}

type qwenMessage struct {
	Role    string        `json:"role"`
	Content []qwenContent `json:"content"`
}

type qwenContent struct {
	Text string `json:"text,omitempty"`
}

type qwenParams struct {
	NegativePrompt string `json:"negative_prompt,omitempty"`
	Size           string `json:"size,omitempty"`
	PromptExtend   *bool  `json:"prompt_extend,omitempty"`
	Watermark      *bool  `json:"watermark,omitempty"`
}

type qwenResponse struct {
	Output struct {
		Choices []struct {
			Message struct {
				Content []struct {
					Image string `json:"image"`
				} `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	} `json:"output"`
	Usage struct {
		Width  int `json:"width"`
		Height int `json:"height"`
	} `json:"usage"`
	RequestID string `json:"request_id"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

type qwenErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewQwen constructs the provider.
func NewQwen(opts QwenOptions) *Qwen {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 45 * time.Second}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://dashscope-intl.aliyuncs.com/api/v1"
	}
	logger := opts.Logger
	if logger == nil {
		l := infra.Logger(zerolog.New(io.Discard))
		logger = &l
	}
	return &Qwen{
		apiKey:       strings.TrimSpace(opts.APIKey),
		baseURL:      baseURL,
		promptExtend: opts.PromptExtend,
		watermark:    opts.Watermark,
		httpClient:   httpClient,
		logger:       logger,
	}
}

func (q *Qwen) Name() string { return qwenName }

// Supports reports image tasks only.
func (q *Qwen) Supports(t domain.TaskType) bool {
	return t != domain.TaskAnalysis && t != domain.TaskVideo
}

func (q *Qwen) Call(ctx context.Context, call Call) (*Output, error) {
	if q.apiKey == "" {
		return nil, MissingKey(qwenName, call.Model)
	}
	prompt := strings.TrimSpace(call.Prompt)
	if prompt == "" {
		return nil, &Error{Provider: qwenName, Model: call.Model, Kind: KindRejected, Err: errors.New("prompt is required")}
	}
	width, height := normalizeAspect(call.AspectRatio)
	quantity := clampQuantity(call.Quantity)
	out := &Output{}
	for i := 0; i < quantity; i++ {
		asset, err := q.generateOne(ctx, call, prompt, width, height)
		if err != nil {
			if len(out.Assets) > 0 {
				q.logger.Warn().Err(err).Int("generated", len(out.Assets)).Msg("qwen: returning partial batch")
				break
			}
			return nil, err
		}
		out.Assets = append(out.Assets, *asset)
	}
	out.Usage.Units = float64(len(out.Assets))
	return out, nil
}

func (q *Qwen) generateOne(ctx context.Context, call Call, prompt string, width, height int) (*Asset, error) {
	payload := qwenRequest{
		Model: call.Model,
		Input: qwenInput{Messages: []qwenMessage{{
			Role:    "user",
			Content: []qwenContent{{Text: prompt}},
		}}},
		Parameters: qwenParams{
			NegativePrompt: strings.TrimSpace(call.NegativePrompt),
			Size:           fmt.Sprintf("%d*%d", width, height),
		},
	}
	if extend := q.promptExtend; extend {
		payload.Parameters.PromptExtend = &extend
	}
	watermark := q.watermark
	payload.Parameters.Watermark = &watermark

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("qwen: encode request: %w", err)
	}
	endpoint := q.baseURL + "/services/aigc/multimodal-generation/generation"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("qwen: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+q.apiKey)
	if call.RequestID != "" {
		httpReq.Header.Set("X-Request-ID", call.RequestID)
	}

	resp, err := q.httpClient.Do(httpReq)
	if err != nil {
		return nil, FromTransport(qwenName, call.Model, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, FromTransport(qwenName, call.Model, err)
	}
	if resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(raw))
		var detail qwenErrorResponse
		if err := json.Unmarshal(raw, &detail); err == nil && detail.Message != "" {
			msg = detail.Code + ": " + detail.Message
		}
		return nil, FromStatus(qwenName, call.Model, resp.StatusCode, msg)
	}

	var decoded qwenResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, BadResponse(qwenName, call.Model, fmt.Errorf("decode response: %w", err))
	}
	if decoded.Code != "" {
		msg := decoded.Code + ": " + decoded.Message
		if looksLikeSafety(msg) {
			return nil, Safety(qwenName, call.Model, msg)
		}
		return nil, FromStatus(qwenName, call.Model, http.StatusBadRequest, msg)
	}
	imageURL := firstQwenImage(decoded)
	if imageURL == "" {
		return nil, BadResponse(qwenName, call.Model, errors.New("empty image url"))
	}
	data, mime, err := q.download(ctx, call.Model, imageURL)
	if err != nil {
		return nil, err
	}
	asset := &Asset{Data: data, URL: imageURL, MIME: firstNonEmpty(mime, "image/png"), Width: decoded.Usage.Width, Height: decoded.Usage.Height}
	if w, h := decodeImageDimensions(data); w > 0 && h > 0 {
		asset.Width, asset.Height = w, h
	}
	if asset.Width == 0 || asset.Height == 0 {
		asset.Width, asset.Height = width, height
	}
	q.logger.Debug().Str("request_id", decoded.RequestID).Str("model", call.Model).Int("bytes", len(data)).Msg("qwen: image generated")
	return asset, nil
}

func (q *Qwen) download(ctx context.Context, model, imageURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("qwen: build download request: %w", err)
	}
	resp, err := q.httpClient.Do(req)
	if err != nil {
		return nil, "", FromTransport(qwenName, model, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, "", FromStatus(qwenName, model, resp.StatusCode, "download failed")
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", FromTransport(qwenName, model, err)
	}
	if len(data) == 0 {
		return nil, "", BadResponse(qwenName, model, errors.New("empty image body"))
	}
	mime := resp.Header.Get("Content-Type")
	if mime == "" {
		mime = http.DetectContentType(data)
	}
	return data, mime, nil
}

func firstQwenImage(resp qwenResponse) string {
	for _, choice := range resp.Output.Choices {
		for _, content := range choice.Message.Content {
			if img := strings.TrimSpace(content.Image); img != "" {
				return img
			}
		}
	}
	return ""
}
