// Package ranking turns rule candidates into ordered, confidence-scored
// suggestions with an explicit linear scoring function.
package ranking

import (
	"cmp"
	"errors"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	rules "focuswatch/internal/rules/models"
	"focuswatch/internal/suggestion/models"
)

// suggestionNamespace scopes deterministic suggestion IDs.
var suggestionNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("focuswatch/suggestion"))

// Weights is the linear scoring vector. Every term except Bias is centred so
// that a neutral feature contributes nothing.
type Weights struct {
	Raw        float64 `json:"raw" yaml:"raw"`
	Acceptance float64 `json:"acceptance" yaml:"acceptance"`
	Recency    float64 `json:"recency" yaml:"recency"`
	Severity   float64 `json:"severity" yaml:"severity"`
	Bias       float64 `json:"bias" yaml:"bias"`
}

func DefaultWeights() Weights {
	return Weights{Raw: 1, Acceptance: 0.4, Recency: 0.2, Severity: 0.1}
}

// Config holds every tunable of the ranker.
type Config struct {
	Weights Weights `json:"weights" yaml:"weights"`
	// Prior is the acceptance rate assumed for rules without feedback.
	Prior      float64       `json:"prior" yaml:"prior"`
	RecencyTau time.Duration `json:"recency_tau" yaml:"recency_tau"`
	// AutoExecThreshold flags suggestions with confidence strictly above it.
	AutoExecThreshold float64 `json:"auto_exec_threshold" yaml:"-"`
}

func DefaultConfig() Config {
	return Config{
		Weights:           DefaultWeights(),
		Prior:             0.5,
		RecencyTau:        time.Hour,
		AutoExecThreshold: 0.9,
	}
}

var ErrInvalidConfig = errors.New("invalid ranking config")

// Validate rejects configurations under which a candidate could end up above
// its raw confidence without an acceptance rate above the prior. Negative
// penalty weights, Raw above 1 and a positive Bias all allow that.
func (c Config) Validate() error {
	w := c.Weights
	if w.Raw < 0 || w.Acceptance < 0 || w.Recency < 0 || w.Severity < 0 {
		return errors.Join(ErrInvalidConfig, errors.New("weights must be non-negative"))
	}
	if w.Raw > 1 {
		return errors.Join(ErrInvalidConfig, errors.New("raw weight must be at most 1"))
	}
	if w.Bias > 0 {
		return errors.Join(ErrInvalidConfig, errors.New("bias must not be positive"))
	}
	if c.Prior < 0 || c.Prior > 1 {
		return errors.Join(ErrInvalidConfig, errors.New("prior must be in [0, 1]"))
	}
	if c.RecencyTau <= 0 {
		return errors.Join(ErrInvalidConfig, errors.New("recency_tau must be positive"))
	}
	if c.AutoExecThreshold < 0 || c.AutoExecThreshold > 1 {
		return errors.Join(ErrInvalidConfig, errors.New("auto_exec_threshold must be in [0, 1]"))
	}
	return nil
}

// FeedbackHistory supplies per-rule acceptance rates. ok is false for rules
// without recorded feedback.
type FeedbackHistory interface {
	AcceptanceRate(ruleID string) (rate float64, ok bool)
}

// Rates is a FeedbackHistory snapshot keyed by rule ID.
type Rates map[string]float64

func (r Rates) AcceptanceRate(ruleID string) (float64, bool) {
	rate, ok := r[ruleID]
	return rate, ok
}

// Ranker is stateless apart from its configuration.
type Ranker struct {
	cfg Config
}

func New(cfg Config) *Ranker {
	return &Ranker{cfg: cfg}
}

func (r *Ranker) Config() Config {
	return r.cfg
}

// SeverityFeature encodes low=1/3, medium=2/3, high=1.
func SeverityFeature(s rules.Severity) float64 {
	return float64(s.Rank()) / 3
}

// Features extracts the ranking inputs for c.
func (r *Ranker) Features(c rules.Candidate, history FeedbackHistory, now time.Time) models.Features {
	f := models.Features{
		Raw:        rules.Clamp01(c.Confidence),
		Acceptance: r.cfg.Prior,
		Severity:   SeverityFeature(c.Severity),
	}
	if history != nil {
		if rate, ok := history.AcceptanceRate(c.RuleID); ok {
			f.Acceptance = rules.Clamp01(rate)
			f.HasHistory = true
		}
	}
	if newest := c.NewestEvidence(); !newest.IsZero() {
		age := now.Sub(newest)
		if age < 0 {
			age = 0
		}
		f.Recency = math.Exp(-float64(age) / float64(r.cfg.RecencyTau))
	}
	return f
}

// Score is the clamped linear combination of f.
func (r *Ranker) Score(f models.Features) float64 {
	w := r.cfg.Weights
	return rules.Clamp01(w.Raw*f.Raw +
		w.Acceptance*(f.Acceptance-r.cfg.Prior) +
		w.Recency*(f.Recency-1) +
		w.Severity*(f.Severity-1) +
		w.Bias)
}

// Rank scores and orders candidates: confidence desc, then severity desc,
// then rule ID, then suggestion ID.
func (r *Ranker) Rank(candidates []rules.Candidate, history FeedbackHistory, now time.Time) []models.Suggestion {
	out := make([]models.Suggestion, 0, len(candidates))
	for _, c := range candidates {
		f := r.Features(c, history, now)
		confidence := r.Score(f)
		out = append(out, models.Suggestion{
			ID:              SuggestionID(c),
			UserID:          c.UserID,
			RuleID:          c.RuleID,
			Title:           c.Title,
			Description:     c.Description,
			Severity:        c.Severity,
			Confidence:      confidence,
			RawConfidence:   f.Raw,
			Features:        f,
			Evidence:        c.Evidence,
			SuggestedAction: c.SuggestedAction,
			State:           models.StatePending,
			AutoExecutable:  confidence > r.cfg.AutoExecThreshold,
			CreatedAt:       now.UTC(),
		})
	}
	slices.SortStableFunc(out, compare)
	return out
}

func compare(a, b models.Suggestion) int {
	if c := cmp.Compare(b.Confidence, a.Confidence); c != 0 {
		return c
	}
	if c := cmp.Compare(b.Severity.Rank(), a.Severity.Rank()); c != 0 {
		return c
	}
	if c := strings.Compare(a.RuleID, b.RuleID); c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}

// SuggestionID derives a stable ID from the user, rule and evidence, so the
// same detection yields the same ID across evaluations.
func SuggestionID(c rules.Candidate) string {
	var b strings.Builder
	b.WriteString(c.UserID)
	b.WriteByte(0x1f)
	b.WriteString(c.RuleID)
	for _, ev := range c.Evidence {
		b.WriteByte(0x1f)
		if ev.EventID != "" {
			b.WriteString(ev.EventID)
			continue
		}
		b.WriteString(ev.Timestamp.UTC().Format(time.RFC3339Nano))
		b.WriteByte('|')
		b.WriteString(ev.Summary)
	}
	return uuid.NewSHA1(suggestionNamespace, []byte(b.String())).String()
}
