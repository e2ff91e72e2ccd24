package factory

import (
	"sort"
	"strings"

	"github.com/BaSui01/reviewflow/config"
)

// RatingMax is the top of the speed and price scales.
const RatingMax = 5

// ModelInfo describes a selectable model. Speed and Price run from 1 to
// RatingMax, higher is faster or cheaper; 0 means unrated.
type ModelInfo struct {
	Ref   string `json:"ref"`
	Speed int    `json:"speed"`
	Price int    `json:"price"`
}

// Provider returns the provider half of the reference.
func (m ModelInfo) Provider() string {
	provider, _, _ := strings.Cut(m.Ref, ":")
	return provider
}

// Rated reports whether the model carries catalog ratings.
func (m ModelInfo) Rated() bool { return m.Speed > 0 || m.Price > 0 }

var catalog = []ModelInfo{
	{Ref: "openai:gpt-4o-mini", Speed: 4, Price: 4},
	{Ref: "openai:gpt-4o", Speed: 2, Price: 2},
}

// Catalog returns the built-in models.
func Catalog() []ModelInfo {
	out := make([]ModelInfo, len(catalog))
	copy(out, catalog)
	return out
}

// Lookup finds ref in the built-in catalog.
func Lookup(ref string) (ModelInfo, bool) {
	for _, m := range catalog {
		if m.Ref == ref {
			return m, true
		}
	}
	return ModelInfo{}, false
}

// CatalogFor returns the built-in models followed by every configured model
// the catalog does not know, sorted by reference. Unknown models are unrated.
func CatalogFor(cfg config.LLMConfig) []ModelInfo {
	out := Catalog()
	seen := make(map[string]bool, len(out))
	for _, m := range out {
		seen[m.Ref] = true
	}
	var extra []ModelInfo
	add := func(ref string) {
		if ref == "" || seen[ref] {
			return
		}
		seen[ref] = true
		extra = append(extra, ModelInfo{Ref: ref})
	}
	add(cfg.DefaultModel)
	for _, ref := range cfg.Nodes {
		add(ref)
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i].Ref < extra[j].Ref })
	return append(out, extra...)
}

// UsedBy maps each model reference to the steps that run on it. The default
// model is listed as "default" ahead of the steps that fall back to it.
func UsedBy(cfg config.LLMConfig) map[string][]string {
	used := make(map[string][]string)
	if cfg.DefaultModel != "" {
		used[cfg.DefaultModel] = []string{"default"}
	}
	nodes := make([]string, 0, len(cfg.Nodes))
	for node := range cfg.Nodes {
		nodes = append(nodes, node)
	}
	sort.Strings(nodes)
	for _, node := range nodes {
		if ref := cfg.Nodes[node]; ref != "" {
			used[ref] = append(used[ref], node)
		}
	}
	return used
}

// RatingBar renders v as filled and empty squares out of RatingMax.
func RatingBar(v int) string {
	v = max(0, min(v, RatingMax))
	return strings.Repeat("■", v) + strings.Repeat("□", RatingMax-v)
}
