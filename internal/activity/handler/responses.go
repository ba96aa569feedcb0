package handler

import (
	"time"

	"focuswatch/internal/activity/models"
	"focuswatch/internal/activity/service"
)

// IngestResponse is the HTTP response for POST /api/ingest.
type IngestResponse struct {
	Status     string         `json:"status"`
	Stored     int            `json:"stored"`
	Duplicates int            `json:"duplicates"`
	Invalid    int            `json:"invalid"`
	Results    []ItemResponse `json:"results"`
}

type ItemResponse struct {
	Index   int    `json:"index"`
	EventID string `json:"event_id,omitempty"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
}

func FromBatch(result *service.BatchResult) *IngestResponse {
	resp := &IngestResponse{
		Status:     "accepted",
		Stored:     result.Stored,
		Duplicates: result.Duplicates,
		Invalid:    result.Invalid,
		Results:    make([]ItemResponse, 0, len(result.Results)),
	}
	for _, r := range result.Results {
		resp.Results = append(resp.Results, ItemResponse{
			Index:   r.Index,
			EventID: r.EventID,
			Status:  string(r.Status),
			Error:   r.Error,
		})
	}
	return resp
}

func FromSingle(res models.PutResult, event *models.Event) *IngestResponse {
	resp := &IngestResponse{
		Status:  "accepted",
		Results: []ItemResponse{{Index: 0, EventID: event.ID, Status: string(res)}},
	}
	if res == models.PutDuplicate {
		resp.Duplicates = 1
	} else {
		resp.Stored = 1
	}
	return resp
}

// EventsResponse is the HTTP response for GET /api/events.
type EventsResponse struct {
	UserID     string         `json:"user_id"`
	Events     []models.Event `json:"events"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

// StatsResponse is the HTTP response for GET /api/stats.
type StatsResponse struct {
	UserID      string     `json:"user_id"`
	EventCount  int        `json:"event_count"`
	LastEventAt *time.Time `json:"last_event_at"`
}
