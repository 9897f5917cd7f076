// Package transcript turns provider transcript files into plain text.
package transcript

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jholhewres/meetclaw/pkg/meetclaw/apperr"
)

// UnknownSpeaker is used when an entry names no speaker.
const UnknownSpeaker = "Unknown"

type entry map[string]any

// str returns the first non-empty string value among keys.
func (e entry) str(keys ...string) string {
	for _, k := range keys {
		if s, ok := e[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// timestamp accepts an RFC 3339 string or unix milliseconds.
func (e entry) timestamp(keys ...string) (time.Time, bool) {
	for _, k := range keys {
		switch v := e[k].(type) {
		case string:
			if v == "" {
				continue
			}
			if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
				return t, true
			}
			if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
				return time.UnixMilli(ms), true
			}
		case float64:
			return time.UnixMilli(int64(v)), true
		}
	}
	return time.Time{}, false
}

// Flattener renders transcript documents as "[HH:MM:SS] speaker: text" lines.
type Flattener struct {
	// Location used for timestamps. Defaults to UTC.
	Location *time.Location
}

// Flatten accepts three document shapes:
//
//	{"transcript": [{"speaker"|"user_name", "text"|"message", "timestamp"}]}
//	[{"speaker"|"user_name", "text"|"message", "timestamp"}]
//	{"messages": [{"role"|"speaker", "content"|"text", "timestamp"}]}
//
// Newline-delimited entries of the first kind are read as a bare array.
// Any other valid JSON is returned pretty-printed. An empty result is
// NotFound.
func (f Flattener) Flatten(data []byte) (string, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return "", apperr.NotFound("no text content found in transcript")
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		lines, lerr := decodeLines(data)
		if lerr != nil {
			return "", apperr.Validation("transcript is not valid JSON: %v", err)
		}
		doc = lines
	}

	var text string
	switch v := doc.(type) {
	case []any:
		text = f.render(v, []string{"speaker", "user_name", "speaker_id"}, []string{"text", "message"})
	case map[string]any:
		if items, ok := v["transcript"].([]any); ok {
			text = f.render(items, []string{"speaker", "user_name", "speaker_id"}, []string{"text", "message"})
		} else if items, ok := v["messages"].([]any); ok {
			text = f.render(items, []string{"role", "speaker"}, []string{"content", "text"})
		} else {
			text = pretty(doc)
		}
	default:
		text = pretty(doc)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", apperr.NotFound("no text content found in transcript")
	}
	return text, nil
}

func (f Flattener) render(items []any, speakerKeys, textKeys []string) string {
	loc := f.Location
	if loc == nil {
		loc = time.UTC
	}

	lines := make([]string, 0, len(items))
	for _, it := range items {
		e, ok := it.(map[string]any)
		if !ok {
			continue
		}
		speaker := entry(e).str(speakerKeys...)
		if speaker == "" {
			speaker = UnknownSpeaker
		}
		text := entry(e).str(textKeys...)
		if ts, ok := entry(e).timestamp("timestamp", "start_ts"); ok {
			lines = append(lines, fmt.Sprintf("[%s] %s: %s", ts.In(loc).Format(time.TimeOnly), speaker, text))
			continue
		}
		lines = append(lines, fmt.Sprintf("%s: %s", speaker, text))
	}
	return strings.Join(lines, "\n")
}

func decodeLines(data []byte) ([]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	var out []any
	for dec.More() {
		var v map[string]any
		if err := dec.Decode(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func pretty(v any) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return ""
	}
	return string(b)
}
