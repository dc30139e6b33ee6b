package memory

import (
	"encoding/json"
	"strings"

	"github.com/confabhq/confab/internal/util"
)

// extraction is the payload a consolidation call is asked to return.
type extraction struct {
	Journal []string `json:"journal"`
	Core    []string `json:"core"`
}

// promotion is the payload a reflection call is asked to return. Indices are
// 1-based into the presented list.
type promotion struct {
	Promote []int `json:"promote"`
}

// parseExtraction decodes a consolidation reply. Models wrap JSON in prose
// and code fences often enough that strict decoding alone loses good
// extractions, so parsing is lenient; anything unrecoverable degrades to an
// empty extraction with ok == false.
func parseExtraction(raw string) (extraction, bool) {
	var ext extraction
	ok := decodeLenient(raw, &ext)
	if !ok {
		return extraction{}, false
	}
	ext.Journal = compactStrings(ext.Journal)
	ext.Core = compactStrings(ext.Core)
	return ext, true
}

// parsePromotions decodes a reflection reply into its promotion indices.
// Unrecoverable replies return nil with ok == false.
func parsePromotions(raw string) ([]int, bool) {
	var p promotion
	if !decodeLenient(raw, &p) {
		return nil, false
	}
	return p.Promote, true
}

// decodeLenient tries a strict decode first, then strips code fences and
// falls back to the first balanced JSON object in the text.
func decodeLenient(raw string, v any) bool {
	trimmed := strings.TrimSpace(util.StripCodeFences(raw))
	if trimmed == "" {
		return false
	}
	if json.Unmarshal([]byte(trimmed), v) == nil {
		return true
	}
	if obj, found := util.FirstJSONObject(trimmed); found {
		return json.Unmarshal([]byte(obj), v) == nil
	}
	return false
}

// compactStrings drops blank entries and trims the rest.
func compactStrings(in []string) []string {
	out := in[:0]
	for _, s := range in {
		if t := strings.TrimSpace(s); t != "" {
			out = append(out, t)
		}
	}
	return out
}
