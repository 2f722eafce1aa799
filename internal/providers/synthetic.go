package providers

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"strconv"
	"strings"

	"brandgen/internal/domain"
)

// Synthetic renders deterministic placeholder output. It serves development
// setups without provider keys and end-to-end tests.
type Synthetic struct {
	name string
}

// NewSynthetic returns the "synthetic" provider.
func NewSynthetic() *Synthetic {
	return &Synthetic{name: "synthetic"}
}

func (s *Synthetic) Name() string { return s.name }

func (s *Synthetic) Supports(domain.TaskType) bool { return true }

func (s *Synthetic) Call(ctx context.Context, call Call) (*Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, FromTransport(s.name, call.Model, err)
	}
	switch call.TaskType {
	case domain.TaskAnalysis:
		text := syntheticAnalysis(call)
		return &Output{
			Text:  text,
			Usage: Usage{InputTokens: estimateTokens(call.Prompt), OutputTokens: estimateTokens(text)},
		}, nil
	case domain.TaskVideo:
		seed := deterministicSeed(call.RequestID, call.Prompt, call.Model)
		seconds := call.DurationSec
		if seconds <= 0 {
			seconds = estimateVideoLength(call.Prompt)
		}
		return &Output{
			Assets: []Asset{{Data: renderSyntheticVideo(seed, call.Prompt), MIME: "video/mp4"}},
			Usage:  Usage{Units: float64(seconds)},
		}, nil
	}

	quantity := clampQuantity(call.Quantity)
	width, height := normalizeAspect(call.AspectRatio)
	assets := make([]Asset, quantity)
	for i := 0; i < quantity; i++ {
		seed := deterministicSeed(call.RequestID, call.Prompt, call.Locale, call.Model, i)
		assets[i] = Asset{
			Data:   renderSyntheticImage(width, height, seed),
			MIME:   "image/png",
			Width:  width,
			Height: height,
		}
	}
	return &Output{Assets: assets, Usage: Usage{Units: float64(quantity)}}, nil
}

func syntheticAnalysis(call Call) string {
	seed := deterministicSeed(call.RequestID, call.Prompt, call.Model)
	lines := []string{
		"Brand analysis (synthetic)",
		"Reference: " + seed,
		"",
		"Positioning: " + firstSentence(call.Prompt),
		"Strengths: clear naming, memorable tone.",
		"Opportunities: sharpen audience focus, keep visual identity consistent across channels.",
	}
	return strings.Join(lines, "\n")
}

func firstSentence(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.IndexAny(s, ".\n"); idx > 0 {
		return s[:idx]
	}
	return s
}

func renderSyntheticImage(width, height int, seed string) []byte {
	if width <= 0 {
		width = 1024
	}
	if height <= 0 {
		height = 1024
	}
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	base := colorFromSeed(seed, 0)
	accent := colorFromSeed(seed, 1)
	draw.Draw(img, img.Bounds(), &image.Uniform{base}, image.Point{}, draw.Src)

	stripeHeight := max(32, height/12)
	for y := 0; y < height; y += stripeHeight * 2 {
		stripe := image.Rect(0, y, width, min(height, y+stripeHeight))
		draw.Draw(img, stripe, &image.Uniform{accent}, image.Point{}, draw.Over)
	}

	diagonal := colorFromSeed(seed, 2)
	for x := 0; x < max(width, height); x += max(16, width/32) {
		for y := 0; y < height; y++ {
			xx := x + y
			if xx >= width {
				break
			}
			img.Set(xx, y, diagonal)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil
	}
	return buf.Bytes()
}

func renderSyntheticVideo(seed, prompt string) []byte {
	lines := []string{
		"Synthetic video placeholder",
		"Seed: " + seed,
		"Prompt: " + strings.TrimSpace(prompt),
	}
	return []byte(strings.Join(lines, "\n"))
}

func colorFromSeed(seed string, shift int) color.RGBA {
	if seed == "" {
		seed = "000000"
	}
	doubled := seed + seed
	start := (shift * 6) % len(seed)
	segment := doubled[start : start+6]
	return color.RGBA{R: parseHexByte(segment[0:2]), G: parseHexByte(segment[2:4]), B: parseHexByte(segment[4:6]), A: 255}
}

func parseHexByte(s string) uint8 {
	v, err := strconv.ParseUint(s, 16, 8)
	if err != nil {
		return 0
	}
	return uint8(v)
}

func deterministicSeed(parts ...any) string {
	hasher := sha256.New()
	for _, part := range parts {
		fmt.Fprintf(hasher, "%v|", part)
	}
	return hex.EncodeToString(hasher.Sum(nil))[:16]
}

func normalizeAspect(aspect string) (int, int) {
	switch strings.TrimSpace(strings.ToLower(aspect)) {
	case "16:9":
		return 1920, 1080
	case "9:16":
		return 1080, 1920
	case "4:3":
		return 1024, 768
	case "3:4":
		return 768, 1024
	default:
		return 1024, 1024
	}
}

func clampQuantity(quantity int) int {
	if quantity <= 0 {
		return 1
	}
	if quantity > 4 {
		return 4
	}
	return quantity
}

func estimateVideoLength(prompt string) int {
	words := len(strings.Fields(prompt))
	length := words / 3
	if length < 4 {
		return 4
	}
	if length > 10 {
		return 10
	}
	return length
}

// estimateTokens approximates token count at four bytes per token.
func estimateTokens(s string) int {
	if s == "" {
		return 0
	}
	return (len(s) + 3) / 4
}
