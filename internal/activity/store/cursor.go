package store

import (
	"encoding/base64"
	"strconv"
	"strings"
	"time"

	"focuswatch/internal/activity/models"
	dErrors "focuswatch/pkg/domain-errors"
)

// position is the (timestamp, id) key of the last event returned.
type position struct {
	tsNano int64
	id     string
}

func (p position) after(e models.Event) bool {
	ts := e.Timestamp.UnixNano()
	return ts > p.tsNano || (ts == p.tsNano && e.ID > p.id)
}

// EncodeCursor returns the opaque cursor resuming after e.
func EncodeCursor(e models.Event) string {
	raw := strconv.FormatInt(e.Timestamp.UnixNano(), 10) + "|" + e.ID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func decodeCursor(cursor string) (*position, error) {
	if cursor == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return nil, dErrors.New(dErrors.CodeValidation, "invalid cursor")
	}
	tsPart, id, ok := strings.Cut(string(raw), "|")
	if !ok {
		return nil, dErrors.New(dErrors.CodeValidation, "invalid cursor")
	}
	ts, err := strconv.ParseInt(tsPart, 10, 64)
	if err != nil {
		return nil, dErrors.New(dErrors.CodeValidation, "invalid cursor")
	}
	return &position{tsNano: ts, id: id}, nil
}

// bounds converts optional Since/Until into an inclusive/exclusive nanosecond range.
func bounds(p models.QueryParams) (since, until int64) {
	since, until = minNano, maxNano
	if !p.Since.IsZero() {
		since = p.Since.UnixNano()
	}
	if !p.Until.IsZero() {
		until = p.Until.UnixNano()
	}
	return since, until
}

const (
	minNano int64 = -1 << 63
	maxNano int64 = 1<<63 - 1
)

func fromNano(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
