package ranking

import (
	"reflect"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	rules "focuswatch/internal/rules/models"
)

func genCandidate() gopter.Gen {
	return gopter.CombineGens(
		gen.OneConstOf("context_switch", "interruptions", "deep_work"),
		gen.OneConstOf(rules.SeverityLow, rules.SeverityMedium, rules.SeverityHigh),
		gen.Float64Range(-0.5, 1.5),
		gen.IntRange(0, 600),
		gen.Identifier(),
	).Map(func(v []interface{}) rules.Candidate {
		return candidate(v[0].(string), v[1].(rules.Severity), v[2].(float64),
			time.Duration(v[3].(int))*time.Minute, v[4].(string))
	})
}

func genRates() gopter.Gen {
	return gopter.CombineGens(
		gen.Float64Range(0, 1),
		gen.Float64Range(0, 1),
	).Map(func(v []interface{}) Rates {
		return Rates{"context_switch": v[0].(float64), "interruptions": v[1].(float64)}
	})
}

// genValidConfig yields configs that pass Validate, spanning the allowed
// weight ranges.
func genValidConfig() gopter.Gen {
	return gopter.CombineGens(
		gen.Float64Range(0, 1),
		gen.Float64Range(0, 2),
		gen.Float64Range(0, 2),
		gen.Float64Range(0, 2),
		gen.Float64Range(-0.5, 0),
		gen.Float64Range(0, 1),
	).Map(func(v []interface{}) Config {
		cfg := DefaultConfig()
		cfg.Weights = Weights{
			Raw:        v[0].(float64),
			Acceptance: v[1].(float64),
			Recency:    v[2].(float64),
			Severity:   v[3].(float64),
			Bias:       v[4].(float64),
		}
		cfg.Prior = v[5].(float64)
		return cfg
	})
}

func TestRankingProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)
	ranker := New(DefaultConfig())

	properties.Property("confidence is always within [0, 1]", prop.ForAll(
		func(candidates []rules.Candidate, rates Rates) bool {
			for _, sg := range ranker.Rank(candidates, rates, now) {
				if sg.Confidence < 0 || sg.Confidence > 1 {
					return false
				}
			}
			return true
		},
		gen.SliceOf(genCandidate()),
		genRates(),
	))

	properties.Property("higher confidence always ranks first", prop.ForAll(
		func(candidates []rules.Candidate, rates Rates) bool {
			ranked := ranker.Rank(candidates, rates, now)
			for i := 1; i < len(ranked); i++ {
				prev, cur := ranked[i-1], ranked[i]
				if cur.Confidence > prev.Confidence {
					return false
				}
				if cur.Confidence == prev.Confidence && cur.Severity.Rank() > prev.Severity.Rank() {
					return false
				}
			}
			return true
		},
		gen.SliceOf(genCandidate()),
		genRates(),
	))

	properties.Property("ranking is deterministic", prop.ForAll(
		func(candidates []rules.Candidate, rates Rates) bool {
			return reflect.DeepEqual(ranker.Rank(candidates, rates, now), ranker.Rank(candidates, rates, now))
		},
		gen.SliceOf(genCandidate()),
		genRates(),
	))

	properties.Property("acceptance at or below the prior never raises confidence", prop.ForAll(
		func(c rules.Candidate, rate float64) bool {
			f := ranker.Features(c, Rates{c.RuleID: rate}, now)
			return ranker.Score(f) <= f.Raw
		},
		genCandidate(),
		gen.Float64Range(0, 0.5),
	))

	properties.Property("acceptance above the prior raises fresh high-severity candidates", prop.ForAll(
		func(raw, rate float64) bool {
			c := candidate("context_switch", rules.SeverityHigh, raw, 0)
			f := ranker.Features(c, Rates{c.RuleID: rate}, now)
			return ranker.Score(f) >= f.Raw
		},
		gen.Float64Range(0, 1),
		gen.Float64Range(0.5000001, 1),
	))

	properties.Property("no valid config lifts confidence above raw without acceptance above the prior", prop.ForAll(
		func(cfg Config, c rules.Candidate, frac float64) bool {
			if cfg.Validate() != nil {
				return false
			}
			r := New(cfg)
			f := r.Features(c, Rates{c.RuleID: cfg.Prior * frac}, now)
			return r.Score(f) <= f.Raw
		},
		genValidConfig(),
		genCandidate(),
		gen.Float64Range(0, 1),
	))

	properties.TestingRun(t)
}
