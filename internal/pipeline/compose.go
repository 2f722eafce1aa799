package pipeline

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"brandgen/internal/domain"
	"brandgen/internal/providers"
)

// label renders an enum value such as "business_card" as "Business Card".
func label(value string) string {
	value = strings.ReplaceAll(strings.TrimSpace(value), "_", " ")
	return cases.Title(language.English).String(value)
}

// languageName returns the English name of a BCP 47 tag, or the tag itself.
func languageName(tag string) string {
	t, err := language.Parse(tag)
	if err != nil {
		return tag
	}
	if name := display.English.Languages().Name(t); name != "" {
		return name
	}
	return tag
}

func composeLogo(p domain.Payload) (providers.Call, error) {
	lp, ok := p.(*domain.LogoPayload)
	if !ok {
		return providers.Call{}, fmt.Errorf("unexpected payload %T", p)
	}
	parts := []string{fmt.Sprintf("Design a logo for the brand %q.", lp.BrandName)}
	if industry := strings.TrimSpace(lp.Industry); industry != "" {
		parts = append(parts, "Industry: "+industry+".")
	}
	if lp.Style != "" {
		parts = append(parts, "Visual style: "+label(lp.Style)+".")
	}
	if len(lp.Colors) > 0 {
		parts = append(parts, "Palette: "+strings.Join(lp.Colors, ", ")+".")
	}
	if tagline := strings.TrimSpace(lp.Tagline); tagline != "" {
		parts = append(parts, fmt.Sprintf("Include the tagline %q.", tagline))
	}
	parts = append(parts, "Flat vector mark on a plain background, crisp edges, legible lettering.")
	return providers.Call{
		Prompt:         strings.Join(parts, " "),
		NegativePrompt: "photorealistic, blurry, watermark, gradients mesh",
		AspectRatio:    domain.DefaultAspectRatio,
		Quantity:       lp.Variants,
		Locale:         lp.Locale,
	}, nil
}

func composeMockup(p domain.Payload) (providers.Call, error) {
	mp, ok := p.(*domain.MockupPayload)
	if !ok {
		return providers.Call{}, fmt.Errorf("unexpected payload %T", p)
	}
	parts := []string{fmt.Sprintf("Product mockup of a %s showing the brand logo.", strings.ToLower(label(mp.ProductType)))}
	parts = append(parts, "Background: "+strings.ToLower(label(mp.Background))+".")
	if instructions := strings.TrimSpace(mp.Instructions); instructions != "" {
		parts = append(parts, "Additional instructions: "+instructions+".")
	}
	parts = append(parts, "Keep the logo undistorted, natural proportions, sharp focus.")
	parts = append(parts, "Compose for aspect ratio "+mp.AspectRatio+".")
	call := providers.Call{
		Prompt:      strings.Join(parts, " "),
		AspectRatio: mp.AspectRatio,
		Quantity:    1,
		Locale:      mp.Locale,
	}
	if mp.LogoURL != "" {
		call.References = []string{mp.LogoURL}
	}
	return call, nil
}

func composeBundle(p domain.Payload) (providers.Call, error) {
	bp, ok := p.(*domain.BundlePayload)
	if !ok {
		return providers.Call{}, fmt.Errorf("unexpected payload %T", p)
	}
	products := make([]string, 0, len(bp.Items))
	var refs []string
	for _, item := range bp.Items {
		products = append(products, strings.ToLower(label(item.ProductType)))
		if item.LogoURL != "" {
			refs = append(refs, item.LogoURL)
		}
	}
	parts := []string{
		fmt.Sprintf("Brand merchandise bundle %q.", bp.Title),
		"Arrange " + strings.Join(products, ", ") + " in a " + bp.Layout + " layout.",
		"Consistent lighting and branding across every item.",
		"Compose for aspect ratio " + bp.AspectRatio + ".",
	}
	for idx, ref := range refs {
		parts = append(parts, fmt.Sprintf("Use reference image %d: %s", idx+1, ref))
	}
	return providers.Call{
		Prompt:      strings.Join(parts, " "),
		AspectRatio: bp.AspectRatio,
		Quantity:    1,
		Locale:      bp.Locale,
		References:  refs,
	}, nil
}

func composeAnalysis(p domain.Payload) (providers.Call, error) {
	ap, ok := p.(*domain.AnalysisPayload)
	if !ok {
		return providers.Call{}, fmt.Errorf("unexpected payload %T", p)
	}
	parts := []string{
		"Brand: " + ap.BrandName + ".",
		"Description: " + strings.TrimSpace(ap.Description),
	}
	if audience := strings.TrimSpace(ap.Audience); audience != "" {
		parts = append(parts, "Target audience: "+audience+".")
	}
	if len(ap.Competitors) > 0 {
		parts = append(parts, "Competitors: "+strings.Join(ap.Competitors, ", ")+".")
	}
	system := "You are a brand strategist. Respond only with a JSON object with keys " +
		"positioning, strengths, weaknesses, opportunities, recommendedPalette, toneOfVoice. " +
		"Write the values in " + languageName(ap.Locale) + "."
	return providers.Call{
		Prompt: strings.Join(parts, "\n"),
		System: system,
		Locale: ap.Locale,
	}, nil
}

func composeVideo(p domain.Payload) (providers.Call, error) {
	vp, ok := p.(*domain.VideoPayload)
	if !ok {
		return providers.Call{}, fmt.Errorf("unexpected payload %T", p)
	}
	call := providers.Call{
		Prompt:         strings.TrimSpace(vp.Prompt),
		NegativePrompt: "text artifacts, distorted logos, flicker",
		AspectRatio:    vp.AspectRatio,
		DurationSec:    vp.DurationSeconds,
		Quantity:       1,
		Locale:         vp.Locale,
	}
	if vp.ReferenceURL != "" {
		call.References = []string{vp.ReferenceURL}
	}
	return call, nil
}
