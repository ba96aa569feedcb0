package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"focuswatch/internal/activity/models"
	"focuswatch/internal/activity/normalizer"
	dErrors "focuswatch/pkg/domain-errors"
	"focuswatch/pkg/platform/httputil"
)

const maxBatchSize = 1000

// IngestRequest is the body of POST /api/ingest: one event object or an array.
type IngestRequest struct {
	Events []models.RawEvent
	Batch  bool
}

// UnmarshalJSON accepts both shapes.
func (r *IngestRequest) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		r.Batch = true
		return json.Unmarshal(trimmed, &r.Events)
	}
	var single models.RawEvent
	if err := json.Unmarshal(trimmed, &single); err != nil {
		return err
	}
	r.Events = []models.RawEvent{single}
	return nil
}

// Validate implements httputil.Validatable. Per-event validation happens in
// the normalizer so batch items can fail individually.
func (r *IngestRequest) Validate() error {
	if r == nil || len(r.Events) == 0 {
		return dErrors.New(dErrors.CodeValidation, "at least one event is required")
	}
	if len(r.Events) > maxBatchSize {
		return dErrors.New(dErrors.CodeValidation, "batch exceeds 1000 events")
	}
	return nil
}

// parseQuery reads user_id, since, until, cursor and limit from the URL.
func parseQuery(r *http.Request) (models.QueryParams, error) {
	q := r.URL.Query()
	p := models.QueryParams{
		UserID: strings.TrimSpace(q.Get("user_id")),
		Cursor: q.Get("cursor"),
	}
	if p.UserID == "" {
		return p, dErrors.New(dErrors.CodeValidation, "user_id is required")
	}
	var err error
	if p.Since, err = optionalTime(q.Get("since"), "since"); err != nil {
		return p, err
	}
	if p.Until, err = optionalTime(q.Get("until"), "until"); err != nil {
		return p, err
	}
	if v := q.Get("limit"); v != "" {
		if p.Limit, err = strconv.Atoi(v); err != nil || p.Limit < 1 {
			return p, dErrors.New(dErrors.CodeValidation, "limit must be a positive integer")
		}
	}
	return p, nil
}

func optionalTime(v, field string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	t, err := normalizer.ParseTimestamp(v)
	if err != nil {
		return time.Time{}, dErrors.New(dErrors.CodeValidation, field+" must be an RFC 3339 timestamp")
	}
	return t, nil
}

var _ httputil.Validatable = (*IngestRequest)(nil)
