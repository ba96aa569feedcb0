package normalizer

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"focuswatch/internal/activity/models"
	dErrors "focuswatch/pkg/domain-errors"
)

type NormalizerSuite struct {
	suite.Suite
	n *Normalizer
}

func TestNormalizerSuite(t *testing.T) {
	suite.Run(t, new(NormalizerSuite))
}

func (s *NormalizerSuite) SetupTest() {
	n, err := New("test-salt", "project")
	s.Require().NoError(err)
	s.n = n
}

func (s *NormalizerSuite) raw() models.RawEvent {
	return models.RawEvent{
		UserID:    "u1",
		EventID:   "e1",
		Timestamp: "2024-03-01T09:15:00+02:00",
		Type:      "app_switch",
		Meta:      map[string]any{"app": "Slack"},
	}
}

// =============================================================================
// Validation
// =============================================================================

func (s *NormalizerSuite) TestValidation() {
	s.Run("unknown type rejected", func() {
		raw := s.raw()
		raw.Type = "teleport"
		_, err := s.n.Normalize(raw)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("missing type rejected", func() {
		raw := s.raw()
		raw.Type = ""
		_, err := s.n.Normalize(raw)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("missing user rejected", func() {
		raw := s.raw()
		raw.UserID = "  "
		_, err := s.n.Normalize(raw)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("unparsable timestamp rejected", func() {
		raw := s.raw()
		raw.Timestamp = "yesterday-ish"
		_, err := s.n.Normalize(raw)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("missing timestamp rejected", func() {
		raw := s.raw()
		raw.Timestamp = ""
		_, err := s.n.Normalize(raw)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("empty salt refused", func() {
		_, err := New("")
		s.Error(err)
	})
}

// =============================================================================
// Timestamps
// =============================================================================

func (s *NormalizerSuite) TestTimestampsCoercedToUTC() {
	cases := map[string]time.Time{
		"2024-03-01T09:15:00+02:00":      time.Date(2024, 3, 1, 7, 15, 0, 0, time.UTC),
		"2024-03-01T07:15:00Z":           time.Date(2024, 3, 1, 7, 15, 0, 0, time.UTC),
		"2024-03-01T07:15:00.5Z":         time.Date(2024, 3, 1, 7, 15, 0, 500_000_000, time.UTC),
		"2024-03-01T07:15:00":            time.Date(2024, 3, 1, 7, 15, 0, 0, time.UTC),
		"2024-03-01 07:15:00":            time.Date(2024, 3, 1, 7, 15, 0, 0, time.UTC),
		"2024-03-01T07:15:00.123456789Z": time.Date(2024, 3, 1, 7, 15, 0, 123456789, time.UTC),
	}
	for in, want := range cases {
		s.Run(in, func() {
			raw := s.raw()
			raw.Timestamp = in
			ev, err := s.n.Normalize(raw)
			s.Require().NoError(err)
			s.True(want.Equal(ev.Timestamp), "got %s", ev.Timestamp)
			s.Equal(time.UTC, ev.Timestamp.Location())
		})
	}
}

func (s *NormalizerSuite) TestTimestampsOutsideNanosecondRangeRejected() {
	for _, in := range []string{
		"2300-01-01T00:00:00Z",
		"1600-06-01T12:00:00Z",
		"2262-04-11T23:47:16.854775808Z",
		"9999-12-31T23:59:59",
	} {
		s.Run(in, func() {
			_, err := ParseTimestamp(in)
			s.True(dErrors.HasCode(err, dErrors.CodeValidation), "got %v", err)

			raw := s.raw()
			raw.Timestamp = in
			_, err = s.n.Normalize(raw)
			s.True(dErrors.HasCode(err, dErrors.CodeValidation))
		})
	}

	s.Run("range edges accepted and round-trip through UnixNano", func() {
		for _, in := range []string{"2262-04-11T23:47:16.854775807Z", "1677-09-21T00:12:43.145224192Z"} {
			ts, err := ParseTimestamp(in)
			s.Require().NoError(err, in)
			s.True(ts.Equal(time.Unix(0, ts.UnixNano())), in)
		}
	})
}

// =============================================================================
// Meta minimization
// =============================================================================

func (s *NormalizerSuite) TestPIIIsHashed() {
	raw := s.raw()
	raw.Meta = map[string]any{
		"app":          "Code",
		"Window_Title": "secret-plan.docx - Word",
		"file_path":    "/home/alice/secret-plan.docx",
		"email":        "alice@example.com",
		"project":      "apollo",
		"pid":          float64(4242),
	}

	ev, err := s.n.Normalize(raw)
	s.Require().NoError(err)

	s.Equal("Code", ev.Meta["app"])
	s.Equal("4242", ev.Meta["pid"])
	for _, key := range []string{"window_title", "file_path", "email", "project"} {
		s.NotContains(ev.Meta, key, "original %s must not be kept", key)
		s.Len(ev.Meta[key+"_hash"], 64, "%s_hash is a 256-bit hex digest", key)
	}
	for _, v := range ev.Meta {
		s.NotContains(v, "alice")
	}
	s.Equal(s.n.Hash("/home/alice/secret-plan.docx"), ev.Meta["file_path_hash"])
}

func (s *NormalizerSuite) TestHashIsKeyed() {
	other, err := New("other-salt")
	s.Require().NoError(err)
	s.NotEqual(s.n.Hash("value"), other.Hash("value"))
	s.Equal(s.n.Hash("value"), s.n.Hash("value"))
}

func (s *NormalizerSuite) TestLongValuesTruncated() {
	raw := s.raw()
	longTitle := strings.Repeat("t", 150)
	raw.Meta = map[string]any{
		"window_title": longTitle,
		"command":      strings.Repeat("é", 1500),
	}

	ev, err := s.n.Normalize(raw)
	s.Require().NoError(err)
	s.Equal(s.n.Hash(longTitle[:100]), ev.Meta["window_title_hash"])
	s.Equal(1000, len([]rune(ev.Meta["command"])))
}

// =============================================================================
// Identity
// =============================================================================

func (s *NormalizerSuite) TestMissingEventIDIsDerivedDeterministically() {
	raw := s.raw()
	raw.EventID = ""

	first, err := s.n.Normalize(raw)
	s.Require().NoError(err)
	second, err := s.n.Normalize(raw)
	s.Require().NoError(err)
	s.NotEmpty(first.ID)
	s.Equal(first.ID, second.ID)

	raw.Meta = map[string]any{"app": "Mail"}
	third, err := s.n.Normalize(raw)
	s.Require().NoError(err)
	s.NotEqual(first.ID, third.ID)
}

func (s *NormalizerSuite) TestExplicitEventIDKept() {
	ev, err := s.n.Normalize(s.raw())
	s.Require().NoError(err)
	s.Equal("e1", ev.ID)
	s.Equal("u1", ev.UserID)
	s.Equal(models.TypeAppSwitch, ev.Type)
}
