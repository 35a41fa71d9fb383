// Package selection picks (provider instance, model) pairs for new agents
// and for failover: reachable per the model registry, allowed by the tier
// policy, not key-depleted, ranked by tracked performance with a parameter
// size tie-break.
package selection

import (
	"sort"
	"strings"

	"github.com/kadirpekel/colony/pkg/config"
	"github.com/kadirpekel/colony/pkg/keys"
	"github.com/kadirpekel/colony/pkg/llms"
	"github.com/kadirpekel/colony/pkg/perf"
)

// Candidate is one selectable model.
type Candidate struct {
	Provider  string
	Suffix    string
	Canonical string
	Local     bool
	Score     float64
	ParamSize float64
}

// Model returns the agent-facing model id: local models carry the provider
// base prefix, remote ones are the bare suffix.
func (c Candidate) Model() string {
	if c.Local {
		return c.Provider + "/" + c.Suffix
	}
	return c.Suffix
}

// Picker enumerates and ranks candidates.
type Picker struct {
	cfg      *config.Config
	registry *llms.ModelRegistry
	keys     *keys.Manager
	perf     *perf.Tracker
}

func NewPicker(cfg *config.Config, registry *llms.ModelRegistry, km *keys.Manager, tracker *perf.Tracker) *Picker {
	return &Picker{cfg: cfg, registry: registry, keys: km, perf: tracker}
}

// Candidates returns every selectable model, best first. Models whose
// canonical id appears in exclude are skipped, as are models on depleted
// providers and models outside the configured tier.
func (p *Picker) Candidates(exclude map[string]bool) []Candidate {
	var out []Candidate

	for _, inst := range p.registry.Instances() {
		if p.keys.IsProviderDepleted(inst.Name) {
			continue
		}
		for _, m := range inst.Models {
			c := Candidate{
				Provider: inst.Name,
				Suffix:   m.Suffix,
				Local:    inst.Local,
			}
			c.Canonical = llms.ModelKey{Provider: inst.Name, Suffix: m.Suffix}.Canonical()

			if exclude[c.Canonical] {
				continue
			}
			if !p.tierAllows(c) {
				continue
			}

			if rec, ok := p.perf.Snapshot(c.Canonical); ok {
				c.Score = rec.Score()
			}
			c.ParamSize = perf.ParamSize(c.Suffix)
			out = append(out, c)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if out[i].ParamSize != out[j].ParamSize {
			return out[i].ParamSize > out[j].ParamSize
		}
		return out[i].Canonical < out[j].Canonical
	})
	return out
}

// Pick returns the best candidate, if any.
func (p *Picker) Pick(exclude map[string]bool) (Candidate, bool) {
	candidates := p.Candidates(exclude)
	if len(candidates) == 0 {
		return Candidate{}, false
	}
	return candidates[0], true
}

func (p *Picker) tierAllows(c Candidate) bool {
	switch p.cfg.ModelTier {
	case config.TierLocal:
		return c.Local
	case config.TierFree:
		return c.Local || strings.HasSuffix(c.Suffix, ":free")
	default:
		return true
	}
}
