// Package normalizer turns raw collector payloads into canonical events. It
// validates type and timestamp, minimizes meta and replaces identifying values
// with keyed BLAKE2b hashes. It performs no I/O.
package normalizer

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"

	"focuswatch/internal/activity/models"
	dErrors "focuswatch/pkg/domain-errors"
)

const (
	maxTitleRunes = 100
	maxValueRunes = 1000
	maxIDLength   = 128
	hashSuffix    = "_hash"
	titleKey      = "window_title"
)

// DefaultPIIKeys are meta keys always treated as identifying.
var DefaultPIIKeys = []string{
	"window_title", "file_path", "path", "email", "user_email", "username", "name", "full_name",
}

// eventNamespace scopes derived event IDs.
var eventNamespace = uuid.MustParse("6f1c9a52-3b1e-5d7a-9c40-2e8f0b7d4a11")

// Zone-less layouts are interpreted as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// Stores key events on UnixNano, so timestamps must fit in int64 nanoseconds.
var (
	minTimestamp = time.Unix(0, math.MinInt64).UTC()
	maxTimestamp = time.Unix(0, math.MaxInt64).UTC()
)

// Normalizer is safe for concurrent use.
type Normalizer struct {
	key     []byte
	piiKeys map[string]struct{}
}

// New builds a normalizer keyed by salt. extraKeys extend DefaultPIIKeys.
func New(salt string, extraKeys ...string) (*Normalizer, error) {
	if salt == "" {
		return nil, fmt.Errorf("normalizer: salt is required")
	}
	key := []byte(salt)
	// BLAKE2b keys are at most 64 bytes.
	if len(key) > blake2b.Size {
		sum := blake2b.Sum256(key)
		key = sum[:]
	}

	n := &Normalizer{key: key, piiKeys: make(map[string]struct{})}
	for _, k := range append(append([]string{}, DefaultPIIKeys...), extraKeys...) {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" {
			n.piiKeys[k] = struct{}{}
		}
	}
	return n, nil
}

// Normalize validates raw and returns the canonical event.
func (n *Normalizer) Normalize(raw models.RawEvent) (models.Event, error) {
	userID := strings.TrimSpace(raw.UserID)
	if userID == "" {
		return models.Event{}, dErrors.New(dErrors.CodeValidation, "user_id is required")
	}
	if len(userID) > maxIDLength {
		return models.Event{}, dErrors.New(dErrors.CodeValidation, "user_id is too long")
	}

	typ := models.EventType(strings.ToLower(strings.TrimSpace(raw.Type)))
	if typ == "" {
		return models.Event{}, dErrors.New(dErrors.CodeValidation, "type is required")
	}
	if !typ.IsValid() {
		return models.Event{}, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("unknown event type %q", raw.Type))
	}

	ts, err := ParseTimestamp(raw.Timestamp)
	if err != nil {
		return models.Event{}, err
	}

	meta, err := n.minimize(raw.Meta)
	if err != nil {
		return models.Event{}, err
	}

	eventID := strings.TrimSpace(raw.EventID)
	if len(eventID) > maxIDLength {
		return models.Event{}, dErrors.New(dErrors.CodeValidation, "event_id is too long")
	}
	if eventID == "" {
		eventID = deriveID(userID, ts, typ, meta)
	}

	return models.Event{
		ID:        eventID,
		UserID:    userID,
		Timestamp: ts,
		Type:      typ,
		Meta:      meta,
	}, nil
}

// ParseTimestamp accepts RFC 3339 with or without zone and returns UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, dErrors.New(dErrors.CodeValidation, "timestamp is required")
	}
	for _, layout := range timestampLayouts {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		if t.Before(minTimestamp) || t.After(maxTimestamp) {
			return time.Time{}, dErrors.New(dErrors.CodeValidation,
				fmt.Sprintf("timestamp %q outside supported range %d-%d", s, minTimestamp.Year(), maxTimestamp.Year()))
		}
		return t.UTC(), nil
	}
	return time.Time{}, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("unparsable timestamp %q", s))
}

// Hash returns the keyed BLAKE2b-256 hex digest of value.
func (n *Normalizer) Hash(value string) string {
	h, err := blake2b.New256(n.key)
	if err != nil {
		// Only reachable with an oversized key, which New prevents.
		panic(err)
	}
	h.Write([]byte(value))
	return hex.EncodeToString(h.Sum(nil))
}

func (n *Normalizer) minimize(raw map[string]any) (map[string]string, error) {
	meta := make(map[string]string, len(raw))
	for k, v := range raw {
		key := strings.ToLower(strings.TrimSpace(k))
		if key == "" || v == nil {
			continue
		}
		value, err := stringify(v)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeValidation, fmt.Sprintf("meta.%s is not representable", key))
		}

		if _, pii := n.piiKeys[key]; pii {
			if value == "" {
				continue
			}
			if key == titleKey {
				value = truncate(value, maxTitleRunes)
			}
			meta[key+hashSuffix] = n.Hash(value)
			continue
		}
		meta[key] = truncate(value, maxValueRunes)
	}
	return meta, nil
}

func stringify(v any) (string, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case bool:
		return strconv.FormatBool(x), nil
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	case json.Number:
		return x.String(), nil
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
}

func truncate(s string, maxRunes int) string {
	if utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxRunes])
}

// deriveID gives retried submissions without an event_id the same identity.
// encoding/json sorts map keys, so the meta encoding is canonical.
func deriveID(userID string, ts time.Time, typ models.EventType, meta map[string]string) string {
	metaJSON, _ := json.Marshal(meta)
	name := strings.Join([]string{userID, ts.Format(time.RFC3339Nano), string(typ), string(metaJSON)}, "\x1f")
	return uuid.NewSHA1(eventNamespace, []byte(name)).String()
}
