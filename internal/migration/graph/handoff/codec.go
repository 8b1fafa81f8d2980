package handoff

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/ss2dbx/server/internal/migration/model"
	logx "github.com/ss2dbx/server/pkg/logger"
)

// Marker is the literal line that introduces the hidden prefill block.
const Marker = "===STAGE2_PREFILL_JSON==="

const fence = "```"

// basic safety limits to avoid pathological model output
const (
	maxPayloadLen = 64 * 1024 // 64KB of JSON is far beyond ten short fields
	maxErrSnippet = 200
)

var markerRe = regexp.MustCompile(`(?i)` + regexp.QuoteMeta(Marker))

// Result is the outcome of Decode.
type Result struct {
	// Prefill holds the decoded record; all fields are empty unless Decoded.
	Prefill model.PrefillRecord
	// Visible is the response with every marker span removed.
	Visible string
	// Found reports whether at least one marker was present.
	Found bool
	// Decoded reports whether a payload was parsed into Prefill.
	Decoded bool
	// Warnings collects soft failures (bad JSON, unclosed fence, ...).
	Warnings []string
}

// Split separates the hidden prefill record from the text meant for the user.
// Without a marker the record is empty and the text is returned unchanged.
func Split(response string) (model.PrefillRecord, string) {
	r := Decode(response)
	return r.Prefill, r.Visible
}

// span is one marker occurrence and the block that belongs to it.
type span struct {
	start, end int
	payload    string // JSON object text, empty when none was bounded
}

// Decode is Split plus parsing metadata. It never fails: malformed payloads
// degrade to an empty record while the marker span is still stripped.
func Decode(response string) (res Result) {
	res.Visible = response

	// panic safety
	defer func() {
		if r := recover(); r != nil {
			logx.Error().Str("component", "handoff_codec").Msgf("panic recovered: %v", r)
			res = Result{Visible: response, Warnings: []string{"decoder panic"}}
		}
	}()

	locs := markerRe.FindAllStringIndex(response, -1)
	if len(locs) == 0 {
		return res
	}
	res.Found = true

	spans := make([]span, 0, len(locs))
	for i, loc := range locs {
		limit := len(response)
		if i+1 < len(locs) {
			limit = locs[i+1][0]
		}
		sp, warn := locateBlock(response, loc[0], loc[1], limit)
		if warn != "" {
			res.Warnings = append(res.Warnings, warn)
		}
		spans = append(spans, sp)
	}

	// the last block that decodes wins; the model is told to put it at the end
	for i := len(spans) - 1; i >= 0; i-- {
		if spans[i].payload == "" {
			continue
		}
		rec, err := decodePayload(spans[i].payload)
		if err != nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("bad_payload: %v: %s", err, safeSnippet(spans[i].payload)))
			continue
		}
		res.Prefill = rec
		res.Decoded = true
		break
	}

	res.Visible = strip(response, spans)

	if !res.Decoded {
		logx.Warn().
			Str("component", "handoff_codec").
			Strs("warnings", res.Warnings).
			Msg("prefill marker found but no payload decoded; using empty record")
	}
	return res
}

// locateBlock bounds the block following a marker at [mStart, mEnd). The
// block never extends past limit (the next marker).
func locateBlock(s string, mStart, mEnd, limit int) (span, string) {
	sp := span{start: mStart, end: mEnd}
	p := skipSpace(s, skipDecoration(s, mEnd, limit), limit)

	switch {
	case strings.HasPrefix(s[p:limit], fence):
		// optional language tag up to end of line
		bodyStart := p + len(fence)
		if nl := strings.IndexByte(s[bodyStart:limit], '\n'); nl >= 0 {
			tag := strings.TrimSpace(s[bodyStart : bodyStart+nl])
			if !strings.Contains(tag, "{") {
				bodyStart += nl + 1
			}
		}

		closeIdx := strings.Index(s[bodyStart:limit], fence)

		// a string value may itself hold a fence (DDL in a ```sql block), so
		// the object is bounded first and the closing fence must follow it
		if objStart, objEnd, ok := scanObject(s, bodyStart, limit); ok && (closeIdx < 0 || objStart < bodyStart+closeIdx) {
			if q := skipSpace(s, objEnd, limit); strings.HasPrefix(s[q:limit], fence) {
				sp.payload = s[objStart:objEnd]
				sp.end = q + len(fence)
				return sp, ""
			}
		}

		// otherwise the scan stays inside the first fence so a broken payload
		// cannot reach user text after the block; an unclosed fence runs to
		// the limit
		bodyEnd, warn := limit, "unclosed_fence"
		sp.end = limit
		if closeIdx >= 0 {
			bodyEnd = bodyStart + closeIdx
			sp.end = bodyEnd + len(fence)
			warn = ""
		}

		if objStart, objEnd, ok := scanObject(s, bodyStart, bodyEnd); ok {
			sp.payload = s[objStart:objEnd]
			return sp, warn
		}
		if warn == "" {
			warn = "no_json_object"
		}
		return sp, warn

	case strings.HasPrefix(s[p:limit], "{"):
		// fences omitted by the model
		objStart, objEnd, ok := scanObject(s, p, limit)
		if ok {
			sp.payload = s[objStart:objEnd]
			sp.end = objEnd
			return sp, ""
		}
		sp.end = limit
		return sp, "unterminated_object"
	}

	return sp, "marker_without_block"
}

// scanObject finds the first complete top-level JSON object in s[from:to].
// Braces inside strings are ignored, so nested objects and values such as
// "a } b" are bounded correctly.
func scanObject(s string, from, to int) (int, int, bool) {
	start := strings.IndexByte(s[from:to], '{')
	if start < 0 {
		return 0, 0, false
	}
	start += from

	depth := 0
	inString := false
	escape := false
	for i := start; i < to; i++ {
		b := s[i]
		if escape {
			escape = false
			continue
		}
		if inString {
			if b == '\\' {
				escape = true
			} else if b == '"' {
				inString = false
			}
			continue
		}
		switch b {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return start, i + 1, true
			}
		}
	}
	return 0, 0, false
}

// skipDecoration steps over markdown emphasis or a colon glued to the marker,
// as in "**===STAGE2_PREFILL_JSON===**".
func skipDecoration(s string, i, limit int) int {
	for i < limit && strings.IndexByte("*_~:", s[i]) >= 0 {
		i++
	}
	return i
}

func skipSpace(s string, i, limit int) int {
	for i < limit {
		switch s[i] {
		case ' ', '\t', '\r', '\n':
			i++
		default:
			return i
		}
	}
	return i
}

// strip removes all spans and rejoins the remaining pieces with a blank line,
// trimming only the whitespace the removal left behind.
func strip(s string, spans []span) string {
	var pieces []string
	prev := 0
	for _, sp := range spans {
		pieces = append(pieces, s[prev:sp.start])
		prev = sp.end
	}
	pieces = append(pieces, s[prev:])

	var b strings.Builder
	for i, p := range pieces {
		if i > 0 {
			p = strings.TrimLeft(p, " \t\r\n")
		}
		if i < len(pieces)-1 {
			p = strings.TrimRight(p, " \t\r\n")
		}
		if p == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(p)
	}
	return strings.TrimRight(b.String(), " \t\r\n")
}

// decodePayload parses the object with defaults: unknown keys are ignored and
// missing or unusable values become empty strings.
func decodePayload(payload string) (model.PrefillRecord, error) {
	var rec model.PrefillRecord
	if len(payload) > maxPayloadLen {
		return rec, fmt.Errorf("payload too large")
	}

	var raw map[string]any
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		return rec, err
	}

	for _, key := range model.PrefillKeys {
		v, ok := lookup(raw, key)
		if !ok {
			continue
		}
		rec.Set(key, stringify(v))
	}
	return rec, nil
}

// lookup matches keys exactly first, then case-insensitively.
func lookup(raw map[string]any, key string) (any, bool) {
	if v, ok := raw[key]; ok {
		return v, true
	}
	for k, v := range raw {
		if strings.EqualFold(strings.TrimSpace(k), key) {
			return v, true
		}
	}
	return nil, false
}

func stringify(v any) string {
	switch vv := v.(type) {
	case string:
		return vv
	case float64:
		return strconv.FormatFloat(vv, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(vv)
	case []any:
		parts := make([]string, 0, len(vv))
		for _, item := range vv {
			switch item.(type) {
			case string, float64, bool:
				if s := stringify(item); s != "" {
					parts = append(parts, s)
				}
			}
		}
		return strings.Join(parts, ", ")
	default:
		// objects and null
		return ""
	}
}

func safeSnippet(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxErrSnippet {
		return s
	}
	return s[:maxErrSnippet]
}
