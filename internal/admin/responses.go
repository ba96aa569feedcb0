package admin

import (
	"time"

	"focuswatch/internal/ranking"
	rules "focuswatch/internal/rules/models"
)

// PruneResponse is the HTTP response DTO for a manual retention pass.
type PruneResponse struct {
	Cutoff  time.Time      `json:"cutoff"`
	Removed map[string]int `json:"removed"`
	Total   int            `json:"total"`
}

// RulesResponse lists registered rules in evaluation order.
type RulesResponse struct {
	Rules []rules.Descriptor `json:"rules"`
	Total int                `json:"total"`
}

// WeightsResponse exposes the ranking configuration.
type WeightsResponse struct {
	Weights           ranking.Weights `json:"weights"`
	Prior             float64         `json:"prior"`
	RecencyTauSeconds float64         `json:"recency_tau_seconds"`
	AutoExecThreshold float64         `json:"auto_exec_threshold"`
}
