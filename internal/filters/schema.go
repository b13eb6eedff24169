package filters

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

var triStateSchema = map[string]any{
	"oneOf": []any{
		map[string]any{"type": "boolean"},
		map[string]any{"type": "string", "enum": []any{"", "yes", "no", "any", "doesn't matter", "true", "false"}},
	},
}

var countSchema = map[string]any{"type": []any{"integer", "null"}, "minimum": 0}

var wordListSchema = map[string]any{
	"type":  []any{"array", "null"},
	"items": map[string]any{"type": "string"},
}

func objectSchema(props map[string]any) map[string]any {
	props["coinLimit"] = countSchema
	return map[string]any{
		"type":       "object",
		"properties": props,
	}
}

var schemaDocs = map[Kind]map[string]any{
	KindProfile: objectSchema(map[string]any{
		"extractPhone":     map[string]any{"type": "boolean"},
		"extractEmail":     map[string]any{"type": "boolean"},
		"extractLinkInBio": map[string]any{"type": "boolean"},
		"privacy":          triStateSchema,
		"verified":         triStateSchema,
		"business":         triStateSchema,
		"profilePicture":   triStateSchema,
		"minFollowers":     countSchema,
		"maxFollowers":     countSchema,
		"minFollowing":     countSchema,
		"maxFollowing":     countSchema,
		"nameContains":     wordListSchema,
		"bioContains":      wordListSchema,
		"stopWords":        wordListSchema,
	}),
	KindPost: objectSchema(map[string]any{
		"dateFrom":         map[string]any{"type": "string"},
		"dateTo":           map[string]any{"type": "string"},
		"postType":         map[string]any{"type": "string", "enum": []any{"", "any", "photo", "video", "carousel"}},
		"minLikes":         countSchema,
		"maxLikes":         countSchema,
		"minComments":      countSchema,
		"maxComments":      countSchema,
		"captionContains":  wordListSchema,
		"captionStopWords": wordListSchema,
		"hashtagContains":  wordListSchema,
		"location":         map[string]any{"type": "string"},
		"postsPerTarget":   map[string]any{"type": "integer", "minimum": 0, "maximum": 10000},
		"hashtags":         wordListSchema,
	}),
	KindComment: objectSchema(map[string]any{
		"excludeWords": wordListSchema,
		"stopWords":    wordListSchema,
		"uniqueUsers":  map[string]any{"type": []any{"boolean", "null"}},
	}),
}

var (
	compileOnce sync.Once
	compiled    map[Kind]*jsonschema.Schema
	compileErr  error
)

func compileSchemas() {
	compiled = make(map[Kind]*jsonschema.Schema, len(schemaDocs))
	for kind, doc := range schemaDocs {
		b, err := json.Marshal(doc)
		if err != nil {
			compileErr = fmt.Errorf("marshal %s schema: %w", kind, err)
			return
		}
		url := fmt.Sprintf("filters-%s.json", kind)
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(url, bytes.NewReader(b)); err != nil {
			compileErr = fmt.Errorf("add %s schema: %w", kind, err)
			return
		}
		schema, err := compiler.Compile(url)
		if err != nil {
			compileErr = fmt.Errorf("compile %s schema: %w", kind, err)
			return
		}
		compiled[kind] = schema
	}
}

// validate checks a raw filter blob against the schema of its variant
func validate(kind Kind, data []byte) error {
	compileOnce.Do(compileSchemas)
	if compileErr != nil {
		return compileErr
	}

	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("filters are not valid JSON: %w", err)
	}
	if err := compiled[kind].Validate(v); err != nil {
		return fmt.Errorf("filters do not match %s schema: %w", kind, err)
	}
	return nil
}
