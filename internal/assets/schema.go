package assets

import (
	"encoding/json"

	"github.com/rotisserie/eris"
)

// Schema is a JSON object schema used to constrain backend output.
type Schema struct {
	Name       string
	Raw        json.RawMessage
	Properties map[string]any
	Required   []string
	// Extra holds the remaining top-level keywords, such as
	// additionalProperties.
	Extra map[string]any
}

type schemaDoc struct {
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties"`
	Required   []string       `json:"required"`
}

// ParseSchema decodes data and checks that it is an object schema declaring
// the top-level property root.
func ParseSchema(name string, data []byte, root string) (*Schema, error) {
	var doc schemaDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, eris.Wrapf(err, "assets: parse schema %s", name)
	}
	if doc.Type != "object" {
		return nil, eris.Errorf("assets: schema %s must have type object, got %q", name, doc.Type)
	}
	if _, ok := doc.Properties[root]; !ok {
		return nil, eris.Errorf("assets: schema %s has no %q property", name, root)
	}
	var all map[string]any
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, eris.Wrapf(err, "assets: parse schema %s", name)
	}
	extra := make(map[string]any)
	for k, v := range all {
		switch k {
		case "type", "properties", "required":
		default:
			extra[k] = v
		}
	}
	return &Schema{
		Name:       name,
		Raw:        json.RawMessage(data),
		Properties: doc.Properties,
		Required:   doc.Required,
		Extra:      extra,
	}, nil
}
