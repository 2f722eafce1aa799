package providers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"brandgen/internal/domain"
	"brandgen/internal/infra"
)

// GeminiOptions configures the Gemini provider.
type GeminiOptions struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
	Logger     *infra.Logger
	// PollInterval spaces long-running video operation checks.
	PollInterval time.Duration
}

// Gemini calls generateContent for text and images and the long-running
// predict endpoint for Veo video models.
type Gemini struct {
	apiKey       string
	baseURL      string
	httpClient   *http.Client
	logger       *infra.Logger
	pollInterval time.Duration
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts,omitempty"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
	FileData   *geminiFileData   `json:"fileData,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data,omitempty"`
}

type geminiFileData struct {
	MimeType string `json:"mimeType,omitempty"`
	FileURI  string `json:"fileUri,omitempty"`
}

type geminiGenerationConfig struct {
	CandidateCount     int                `json:"candidateCount,omitempty"`
	ResponseModalities []string           `json:"responseModalities,omitempty"`
	ImageConfig        *geminiImageConfig `json:"imageConfig,omitempty"`
}

type geminiImageConfig struct {
	AspectRatio string `json:"aspectRatio,omitempty"`
}

type geminiGenerateContentRequest struct {
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	Contents          []geminiContent         `json:"contents"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason,omitempty"`
}

type geminiGenerateContentResponse struct {
	Candidates     []geminiCandidate `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason,omitempty"`
	} `json:"promptFeedback,omitempty"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
}

type geminiErrorResponse struct {
	Error struct {
		Code    int    `json:"code,omitempty"`
		Message string `json:"message,omitempty"`
		Status  string `json:"status,omitempty"`
	} `json:"error"`
}

type veoRequest struct {
	Instances  []veoInstance `json:"instances"`
	Parameters veoParameters `json:"parameters"`
}

type veoInstance struct {
	Prompt string `json:"prompt"`
}

type veoParameters struct {
	AspectRatio     string `json:"aspectRatio,omitempty"`
	DurationSeconds int    `json:"durationSeconds,omitempty"`
	NegativePrompt  string `json:"negativePrompt,omitempty"`
}

type veoOperation struct {
	Name  string `json:"name"`
	Done  bool   `json:"done"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
	Response struct {
		GenerateVideoResponse struct {
			GeneratedSamples []struct {
				Video struct {
					URI string `json:"uri"`
				} `json:"video"`
			} `json:"generatedSamples"`
			RAIMediaFilteredReasons []string `json:"raiMediaFilteredReasons"`
		} `json:"generateVideoResponse"`
	} `json:"response"`
}

const geminiName = "gemini"

// NewGemini constructs the provider. A missing API key is reported per call
// so the router can fall back.
func NewGemini(opts GeminiOptions) *Gemini {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	logger := opts.Logger
	if logger == nil {
		l := infra.Logger(zerolog.New(io.Discard))
		logger = &l
	}
	poll := opts.PollInterval
	if poll <= 0 {
		poll = 5 * time.Second
	}
	return &Gemini{
		apiKey:       strings.TrimSpace(opts.APIKey),
		baseURL:      baseURL,
		httpClient:   client,
		logger:       logger,
		pollInterval: poll,
	}
}

func (g *Gemini) Name() string { return geminiName }

func (g *Gemini) Supports(domain.TaskType) bool { return true }

func (g *Gemini) Call(ctx context.Context, call Call) (*Output, error) {
	if g.apiKey == "" {
		return nil, MissingKey(geminiName, call.Model)
	}
	switch call.TaskType {
	case domain.TaskVideo:
		return g.generateVideo(ctx, call)
	case domain.TaskAnalysis:
		return g.generateText(ctx, call)
	}
	return g.generateImages(ctx, call)
}

func (g *Gemini) generateText(ctx context.Context, call Call) (*Output, error) {
	payload := geminiGenerateContentRequest{
		Contents: []geminiContent{{Role: "user", Parts: []geminiPart{{Text: call.Prompt}}}},
	}
	if call.System != "" {
		payload.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: call.System}}}
	}
	var resp geminiGenerateContentResponse
	if err := g.invoke(ctx, call.Model, "generateContent", payload, &resp); err != nil {
		return nil, err
	}
	if err := blockReason(call.Model, resp); err != nil {
		return nil, err
	}
	var b strings.Builder
	for _, candidate := range resp.Candidates {
		for _, part := range candidate.Content.Parts {
			b.WriteString(part.Text)
		}
		if b.Len() > 0 {
			break
		}
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return nil, BadResponse(geminiName, call.Model, errors.New("empty text response"))
	}
	return &Output{
		Text: text,
		Usage: Usage{
			InputTokens:  resp.UsageMetadata.PromptTokenCount,
			OutputTokens: resp.UsageMetadata.CandidatesTokenCount,
		},
	}, nil
}

func (g *Gemini) generateImages(ctx context.Context, call Call) (*Output, error) {
	quantity := clampQuantity(call.Quantity)
	payload := geminiGenerateContentRequest{
		Contents: []geminiContent{{Role: "user", Parts: []geminiPart{{Text: buildImagePrompt(call)}}}},
		GenerationConfig: &geminiGenerationConfig{
			CandidateCount:     quantity,
			ResponseModalities: []string{"IMAGE"},
			ImageConfig:        &geminiImageConfig{AspectRatio: call.AspectRatio},
		},
	}
	var resp geminiGenerateContentResponse
	if err := g.invoke(ctx, call.Model, "generateContent", payload, &resp); err != nil {
		return nil, err
	}
	if err := blockReason(call.Model, resp); err != nil {
		return nil, err
	}

	width, height := normalizeAspect(call.AspectRatio)
	var assets []Asset
	for _, candidate := range resp.Candidates {
		for _, part := range candidate.Content.Parts {
			asset, err := g.decodePart(ctx, part)
			if err != nil {
				g.logger.Warn().Err(err).Str("model", call.Model).Msg("gemini: skipping undecodable part")
				continue
			}
			if len(asset.Data) == 0 {
				continue
			}
			if w, h := decodeImageDimensions(asset.Data); w > 0 && h > 0 {
				asset.Width, asset.Height = w, h
			} else {
				asset.Width, asset.Height = width, height
			}
			assets = append(assets, asset)
			if len(assets) >= quantity {
				break
			}
		}
		if len(assets) >= quantity {
			break
		}
	}
	if len(assets) == 0 {
		return nil, BadResponse(geminiName, call.Model, errors.New("no image content returned"))
	}
	g.logger.Debug().Str("request_id", call.RequestID).Str("model", call.Model).Int("quantity", len(assets)).Msg("gemini: generated images")
	return &Output{
		Assets: assets,
		Usage: Usage{
			InputTokens:  resp.UsageMetadata.PromptTokenCount,
			OutputTokens: resp.UsageMetadata.CandidatesTokenCount,
			Units:        float64(len(assets)),
		},
	}, nil
}

func (g *Gemini) generateVideo(ctx context.Context, call Call) (*Output, error) {
	payload := veoRequest{
		Instances: []veoInstance{{Prompt: call.Prompt}},
		Parameters: veoParameters{
			AspectRatio:     call.AspectRatio,
			DurationSeconds: call.DurationSec,
			NegativePrompt:  call.NegativePrompt,
		},
	}
	var op veoOperation
	if err := g.invoke(ctx, call.Model, "predictLongRunning", payload, &op); err != nil {
		return nil, err
	}
	for !op.Done {
		select {
		case <-ctx.Done():
			return nil, FromTransport(geminiName, call.Model, ctx.Err())
		case <-time.After(g.pollInterval):
		}
		if op.Name == "" {
			return nil, BadResponse(geminiName, call.Model, errors.New("operation without name"))
		}
		if err := g.get(ctx, call.Model, g.baseURL+"/"+strings.TrimLeft(op.Name, "/"), &op); err != nil {
			return nil, err
		}
	}
	if op.Error != nil {
		return nil, FromStatus(geminiName, call.Model, httpStatusFromRPC(op.Error.Code), op.Error.Message)
	}
	result := op.Response.GenerateVideoResponse
	if len(result.RAIMediaFilteredReasons) > 0 {
		return nil, Safety(geminiName, call.Model, strings.Join(result.RAIMediaFilteredReasons, "; "))
	}
	if len(result.GeneratedSamples) == 0 || result.GeneratedSamples[0].Video.URI == "" {
		return nil, BadResponse(geminiName, call.Model, errors.New("no video sample returned"))
	}
	data, mime, err := g.download(ctx, call.Model, result.GeneratedSamples[0].Video.URI)
	if err != nil {
		return nil, err
	}
	seconds := call.DurationSec
	if seconds <= 0 {
		seconds = estimateVideoLength(call.Prompt)
	}
	return &Output{
		Assets: []Asset{{Data: data, MIME: firstNonEmpty(mime, "video/mp4"), URL: result.GeneratedSamples[0].Video.URI}},
		Usage:  Usage{Units: float64(seconds)},
	}, nil
}

func (g *Gemini) invoke(ctx context.Context, model, method string, payload, out any) error {
	endpoint := fmt.Sprintf("%s/models/%s:%s", g.baseURL, url.PathEscape(model), method)
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", g.apiKey)
	return g.do(req, model, out)
}

func (g *Gemini) get(ctx context.Context, model, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("x-goog-api-key", g.apiKey)
	return g.do(req, model, out)
}

func (g *Gemini) do(req *http.Request, model string, out any) error {
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return FromTransport(geminiName, model, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		var apiErr geminiErrorResponse
		msg := strings.TrimSpace(string(data))
		if err := json.Unmarshal(data, &apiErr); err == nil && apiErr.Error.Message != "" {
			msg = apiErr.Error.Message
		}
		return FromStatus(geminiName, model, resp.StatusCode, msg)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return BadResponse(geminiName, model, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func (g *Gemini) decodePart(ctx context.Context, part geminiPart) (Asset, error) {
	if part.InlineData != nil && part.InlineData.Data != "" {
		data, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
		if err != nil {
			return Asset{}, fmt.Errorf("decode inline data: %w", err)
		}
		return Asset{Data: data, MIME: firstNonEmpty(part.InlineData.MimeType, "image/png")}, nil
	}
	if part.FileData != nil && part.FileData.FileURI != "" {
		data, mime, err := g.download(ctx, "", part.FileData.FileURI)
		if err != nil {
			return Asset{}, err
		}
		return Asset{Data: data, MIME: firstNonEmpty(part.FileData.MimeType, mime, "image/png"), URL: part.FileData.FileURI}, nil
	}
	return Asset{}, nil
}

func (g *Gemini) download(ctx context.Context, model, uri string) ([]byte, string, error) {
	target := uri
	if !strings.HasPrefix(uri, "http://") && !strings.HasPrefix(uri, "https://") {
		target = g.baseURL + "/" + strings.TrimLeft(uri, "/")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, "", fmt.Errorf("create download request: %w", err)
	}
	req.Header.Set("x-goog-api-key", g.apiKey)
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, "", FromTransport(geminiName, model, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return nil, "", FromStatus(geminiName, model, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	blob, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", FromTransport(geminiName, model, err)
	}
	return blob, resp.Header.Get("Content-Type"), nil
}

func blockReason(model string, resp geminiGenerateContentResponse) error {
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return Safety(geminiName, model, "prompt blocked: "+resp.PromptFeedback.BlockReason)
	}
	for _, c := range resp.Candidates {
		switch c.FinishReason {
		case "SAFETY", "PROHIBITED_CONTENT", "IMAGE_SAFETY", "BLOCKLIST":
			return Safety(geminiName, model, "candidate blocked: "+c.FinishReason)
		}
	}
	return nil
}

// httpStatusFromRPC maps google.rpc codes carried in operation errors.
func httpStatusFromRPC(code int) int {
	switch code {
	case 3:
		return http.StatusBadRequest
	case 4:
		return http.StatusGatewayTimeout
	case 7, 16:
		return http.StatusForbidden
	case 8:
		return http.StatusTooManyRequests
	case 14:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func buildImagePrompt(call Call) string {
	var b strings.Builder
	if prompt := strings.TrimSpace(call.Prompt); prompt != "" {
		b.WriteString(prompt)
	}
	if neg := strings.TrimSpace(call.NegativePrompt); neg != "" {
		b.WriteString("\nAvoid: ")
		b.WriteString(neg)
	}
	if aspect := strings.TrimSpace(call.AspectRatio); aspect != "" {
		b.WriteString("\nAspect ratio: ")
		b.WriteString(aspect)
	}
	for _, ref := range call.References {
		b.WriteString("\nReference: ")
		b.WriteString(ref)
	}
	if b.Len() == 0 {
		b.WriteString("Create a brand image")
	}
	return b.String()
}

func decodeImageDimensions(data []byte) (int, int) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0
	}
	return cfg.Width, cfg.Height
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
