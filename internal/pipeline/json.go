package pipeline

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/scorito-extract/internal/model"
)

// cleanJSON strips markdown code fences and returns the substring from the
// first '{' to the last '}'. ok is false when no such span exists.
func cleanJSON(text string) (string, bool) {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}

func decodeObject(raw []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, eris.Wrap(err, "decode json object")
	}
	if obj == nil {
		return nil, eris.New("decode json object: null")
	}
	return obj, nil
}

// decodePlayers reads a {"players": [...]} envelope. Missing fields become
// "", scalar values are rendered as text.
func decodePlayers(raw []byte) ([]model.PlayerRecord, error) {
	obj, err := decodeObject(raw)
	if err != nil {
		return nil, err
	}
	list, ok := obj["players"]
	if !ok {
		return nil, eris.New("response has no players array")
	}
	items, ok := list.([]any)
	if !ok {
		return nil, eris.Errorf("players is %T, not an array", list)
	}

	records := make([]model.PlayerRecord, 0, len(items))
	for i, item := range items {
		fields, ok := item.(map[string]any)
		if !ok {
			return nil, eris.Errorf("players[%d] is %T, not an object", i, item)
		}
		var p model.PlayerRecord
		applyFields(&p, fields)
		records = append(records, p)
	}
	return records, nil
}

// applyFields overwrites the record fields present in fields and leaves the
// rest untouched. Unknown keys are ignored.
func applyFields(p *model.PlayerRecord, fields map[string]any) {
	for k, v := range fields {
		switch strings.ToLower(k) {
		case "name":
			p.Name = textValue(v)
		case "team":
			p.Team = textValue(v)
		case "points":
			p.Points = textValue(v)
		case "worth":
			p.Worth = textValue(v)
		case "jersey":
			p.Jersey = textValue(v)
		case "position":
			p.Position = textValue(v)
		}
	}
}

func textValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// decodeScore reads a {"validate": {"score": n, "justification": "..."}}
// envelope. Fractional scores are rounded; numeric strings are accepted.
func decodeScore(raw []byte) (model.ValidationScore, error) {
	obj, err := decodeObject(raw)
	if err != nil {
		return model.ValidationScore{}, err
	}
	inner, ok := obj["validate"].(map[string]any)
	if !ok {
		return model.ValidationScore{}, eris.New("response has no validate object")
	}
	rawScore, ok := inner["score"]
	if !ok || rawScore == nil {
		return model.ValidationScore{}, eris.New("validate object has no score")
	}
	score, err := scoreValue(rawScore)
	if err != nil {
		return model.ValidationScore{}, err
	}
	return model.ValidationScore{
		Score:         score,
		Justification: textValue(inner["justification"]),
	}, nil
}

func scoreValue(v any) (int, error) {
	var text string
	switch t := v.(type) {
	case json.Number:
		text = t.String()
	case string:
		text = strings.TrimSpace(t)
	default:
		return 0, eris.Errorf("score is %T, not a number", v)
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, eris.Errorf("score %q is not a number", text)
	}
	f = math.Round(f)
	if f < math.MinInt32 || f > math.MaxInt32 {
		return 0, eris.Errorf("score %q is out of range", text)
	}
	return int(f), nil
}

// playersJSON renders records as the indented {"players": [...]} document
// used in prompts. Ids are never included.
func playersJSON(records []model.PlayerRecord) (string, error) {
	b, err := json.MarshalIndent(model.NewPlayerSet(records), "", "  ")
	if err != nil {
		return "", eris.Wrap(err, "marshal players")
	}
	return string(b), nil
}
