package providers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"brandgen/internal/domain"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestFromStatusClassification(t *testing.T) {
	t.Parallel()
	cases := []struct {
		status    int
		msg       string
		kind      ErrorKind
		code      string
		retryable bool
	}{
		{http.StatusTooManyRequests, "slow down", KindRateLimited, domain.CodeProviderRateLimited, true},
		{http.StatusGatewayTimeout, "", KindTimeout, domain.CodeProviderTimeout, true},
		{http.StatusRequestTimeout, "", KindTimeout, domain.CodeProviderTimeout, true},
		{http.StatusServiceUnavailable, "overloaded", KindUnavailable, domain.CodeProviderUnavailable, true},
		{http.StatusUnauthorized, "bad key", KindAuth, domain.CodeProviderAuth, false},
		{http.StatusForbidden, "no access", KindAuth, domain.CodeProviderAuth, false},
		{http.StatusBadRequest, "invalid size", KindRejected, domain.CodeProviderRejected, false},
		{http.StatusBadRequest, "DataInspectionFailed: input flagged", KindSafety, domain.CodeSafetyBlocked, false},
	}
	for _, tc := range cases {
		err := FromStatus("p", "m", tc.status, tc.msg)
		if err.Kind != tc.kind {
			t.Fatalf("status %d %q: kind = %s, want %s", tc.status, tc.msg, err.Kind, tc.kind)
		}
		if err.ErrorCode() != tc.code {
			t.Fatalf("status %d: code = %s, want %s", tc.status, err.ErrorCode(), tc.code)
		}
		if err.Retryable() != tc.retryable {
			t.Fatalf("status %d: retryable = %v, want %v", tc.status, err.Retryable(), tc.retryable)
		}
	}
}

func TestFromTransportDeadline(t *testing.T) {
	t.Parallel()
	err := FromTransport("p", "m", context.DeadlineExceeded)
	if err.Kind != KindTimeout {
		t.Fatalf("kind = %s, want timeout", err.Kind)
	}
	if other := FromTransport("p", "m", errors.New("connection refused")); other.Kind != KindUnavailable {
		t.Fatalf("kind = %s, want unavailable", other.Kind)
	}
	code, retry := domain.Classify(err)
	if code != domain.CodeProviderTimeout || !retry {
		t.Fatalf("Classify = %s/%v", code, retry)
	}
}

func TestSyntheticDeterministic(t *testing.T) {
	t.Parallel()
	p := NewSynthetic()
	call := Call{TaskType: domain.TaskLogo, Model: "synthetic-image", Prompt: "kopi", Quantity: 2, AspectRatio: "16:9", RequestID: "job-1"}
	a, err := p.Call(context.Background(), call)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	b, err := p.Call(context.Background(), call)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if len(a.Assets) != 2 || a.Assets[0].Width != 1920 || a.Assets[0].Height != 1080 {
		t.Fatalf("unexpected assets %+v", a.Assets)
	}
	if string(a.Assets[0].Data) != string(b.Assets[0].Data) {
		t.Fatalf("synthetic output is not deterministic")
	}
	if decodeImageDimensionsOK(a.Assets[0].Data) != true {
		t.Fatalf("synthetic image is not a decodable PNG")
	}

	text, err := p.Call(context.Background(), Call{TaskType: domain.TaskAnalysis, Prompt: "Warung Kopi. Coffee shop."})
	if err != nil {
		t.Fatalf("analysis: %v", err)
	}
	if !strings.Contains(text.Text, "Warung Kopi") || text.Usage.OutputTokens == 0 {
		t.Fatalf("unexpected analysis %+v", text)
	}
}

func decodeImageDimensionsOK(data []byte) bool {
	w, h := decodeImageDimensions(data)
	return w > 0 && h > 0
}

func TestSyntheticHonoursCancelledContext(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewSynthetic().Call(ctx, Call{TaskType: domain.TaskLogo}); err == nil {
		t.Fatalf("expected error for cancelled context")
	}
}

func TestMissingKeyIsAuthFailure(t *testing.T) {
	t.Parallel()
	providers := []Provider{
		NewGemini(GeminiOptions{}),
		NewOpenAI(OpenAIOptions{}),
		NewQwen(QwenOptions{}),
	}
	for _, p := range providers {
		_, err := p.Call(context.Background(), Call{TaskType: domain.TaskLogo, Model: "m", Prompt: "x"})
		var pe *Error
		if !errors.As(err, &pe) || pe.Kind != KindAuth {
			t.Fatalf("%s: err = %v, want auth failure", p.Name(), err)
		}
	}
}

func TestGeminiGeneratesInlineImages(t *testing.T) {
	t.Parallel()
	png := renderSyntheticImage(64, 64, "abc")
	var gotKey, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("x-goog-api-key")
		gotPath = r.URL.Path
		var req geminiGenerateContentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if req.GenerationConfig == nil || req.GenerationConfig.ResponseModalities[0] != "IMAGE" {
			t.Errorf("missing image modality")
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{{
				"content": map[string]any{"parts": []map[string]any{
					{"inlineData": map[string]any{"mimeType": "image/png", "data": base64.StdEncoding.EncodeToString(png)}},
				}},
			}},
			"usageMetadata": map[string]any{"promptTokenCount": 12},
		})
	}))
	defer srv.Close()

	g := NewGemini(GeminiOptions{APIKey: "k", BaseURL: srv.URL})
	out, err := g.Call(context.Background(), Call{TaskType: domain.TaskLogo, Model: "gemini-2.5-flash-image", Prompt: "logo"})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if gotKey != "k" || gotPath != "/models/gemini-2.5-flash-image:generateContent" {
		t.Fatalf("unexpected request key=%q path=%q", gotKey, gotPath)
	}
	if len(out.Assets) != 1 || out.Assets[0].Width != 64 || out.Usage.InputTokens != 12 {
		t.Fatalf("unexpected output %+v", out)
	}
}

func TestGeminiSafetyBlock(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"candidates":[],"promptFeedback":{"blockReason":"SAFETY"}}`))
	}))
	defer srv.Close()

	g := NewGemini(GeminiOptions{APIKey: "k", BaseURL: srv.URL})
	_, err := g.Call(context.Background(), Call{TaskType: domain.TaskMockup, Model: "m", Prompt: "x"})
	code, retry := domain.Classify(err)
	if code != domain.CodeSafetyBlocked || retry {
		t.Fatalf("Classify = %s/%v, want SAFETY_BLOCKED fatal", code, retry)
	}
}

func TestGeminiRateLimited(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"code":429,"message":"quota","status":"RESOURCE_EXHAUSTED"}}`))
	}))
	defer srv.Close()

	g := NewGemini(GeminiOptions{APIKey: "k", BaseURL: srv.URL})
	_, err := g.Call(context.Background(), Call{TaskType: domain.TaskAnalysis, Model: "m", Prompt: "x"})
	var pe *Error
	if !errors.As(err, &pe) || pe.Kind != KindRateLimited || !pe.Retryable() {
		t.Fatalf("err = %v, want retryable rate limit", err)
	}
}

func TestGeminiVideoPollsOperation(t *testing.T) {
	t.Parallel()
	polls := 0
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, ":predictLongRunning"):
			_, _ = w.Write([]byte(`{"name":"operations/op-1","done":false}`))
		case r.URL.Path == "/operations/op-1":
			polls++
			_ = json.NewEncoder(w).Encode(map[string]any{
				"name": "operations/op-1",
				"done": true,
				"response": map[string]any{"generateVideoResponse": map[string]any{
					"generatedSamples": []map[string]any{{"video": map[string]any{"uri": srv.URL + "/files/video.mp4"}}},
				}},
			})
		case r.URL.Path == "/files/video.mp4":
			w.Header().Set("Content-Type", "video/mp4")
			_, _ = w.Write([]byte("mp4-bytes"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	g := NewGemini(GeminiOptions{APIKey: "k", BaseURL: srv.URL, PollInterval: time.Millisecond})
	out, err := g.Call(context.Background(), Call{TaskType: domain.TaskVideo, Model: "veo-3.0-generate-001", Prompt: "promo", DurationSec: 8})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if polls != 1 {
		t.Fatalf("polls = %d, want 1", polls)
	}
	if string(out.Assets[0].Data) != "mp4-bytes" || out.Usage.Units != 8 {
		t.Fatalf("unexpected output %+v", out)
	}
}

func TestOpenAIChatCompletion(t *testing.T) {
	t.Parallel()
	client := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var req openAIChatRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Model != "gpt-4o-mini" {
			t.Errorf("model = %s, want normalized gpt-4o-mini", req.Model)
		}
		body := `{"choices":[{"message":{"content":"{\"summary\":\"ok\"}"},"finish_reason":"stop"}],"usage":{"prompt_tokens":10,"completion_tokens":4}}`
		return &http.Response{StatusCode: http.StatusOK, Body: ioNopCloser(body), Header: http.Header{}}, nil
	})}
	o := NewOpenAI(OpenAIOptions{APIKey: "k", HTTPClient: client})
	out, err := o.Call(context.Background(), Call{TaskType: domain.TaskAnalysis, Model: "GPT4o-mini", Prompt: "analyze", System: "json"})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if out.Text != `{"summary":"ok"}` || out.Usage.InputTokens != 10 || out.Usage.OutputTokens != 4 {
		t.Fatalf("unexpected output %+v", out)
	}
}

func TestOpenAIContentPolicy(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"rejected","code":"content_policy_violation"}}`))
	}))
	defer srv.Close()

	o := NewOpenAI(OpenAIOptions{APIKey: "k", BaseURL: srv.URL})
	_, err := o.Call(context.Background(), Call{TaskType: domain.TaskLogo, Model: "gpt-image-1", Prompt: "x"})
	if domain.CodeOf(err) != domain.CodeSafetyBlocked {
		t.Fatalf("code = %s, want SAFETY_BLOCKED", domain.CodeOf(err))
	}
}

func TestQwenGeneratesAndDownloads(t *testing.T) {
	t.Parallel()
	png := renderSyntheticImage(32, 48, "q")
	calls := 0
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/services/aigc/multimodal-generation/generation":
			calls++
			if r.Header.Get("Authorization") != "Bearer k" {
				t.Errorf("missing bearer token")
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"output": map[string]any{"choices": []map[string]any{{
					"message": map[string]any{"content": []map[string]any{{"image": srv.URL + "/img.png"}}},
				}}},
				"request_id": "r1",
			})
		case "/img.png":
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write(png)
		}
	}))
	defer srv.Close()

	q := NewQwen(QwenOptions{APIKey: "k", BaseURL: srv.URL})
	out, err := q.Call(context.Background(), Call{TaskType: domain.TaskMockup, Model: "qwen-image-plus", Prompt: "tote bag", Quantity: 2})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if calls != 2 || len(out.Assets) != 2 {
		t.Fatalf("calls = %d assets = %d, want 2/2", calls, len(out.Assets))
	}
	if out.Assets[0].Width != 32 || out.Assets[0].Height != 48 {
		t.Fatalf("unexpected dimensions %dx%d", out.Assets[0].Width, out.Assets[0].Height)
	}
}

func TestQwenBusinessErrorSafety(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":"DataInspectionFailed","message":"Input data may contain inappropriate content."}`))
	}))
	defer srv.Close()

	q := NewQwen(QwenOptions{APIKey: "k", BaseURL: srv.URL})
	_, err := q.Call(context.Background(), Call{TaskType: domain.TaskLogo, Model: "qwen-image-plus", Prompt: "x"})
	if domain.CodeOf(err) != domain.CodeSafetyBlocked {
		t.Fatalf("code = %s, want SAFETY_BLOCKED", domain.CodeOf(err))
	}
}

func TestCapabilities(t *testing.T) {
	t.Parallel()
	if NewQwen(QwenOptions{}).Supports(domain.TaskAnalysis) {
		t.Fatalf("qwen should not serve analysis")
	}
	if NewOpenAI(OpenAIOptions{}).Supports(domain.TaskVideo) {
		t.Fatalf("openai should not serve video")
	}
	if !NewGemini(GeminiOptions{}).Supports(domain.TaskVideo) {
		t.Fatalf("gemini should serve video")
	}
}

func ioNopCloser(s string) io.ReadCloser { return io.NopCloser(strings.NewReader(s)) }
