package parser

import (
	"net/url"
	"strings"

	"github.com/aliskhannn/image-gateway/internal/model"
)

// Keys consumed by each operation. A key present in a stage that does not
// consume it is moved to the shared pool.
var stageKeys = map[model.Kind][]string{
	model.KindResize:         {"width", "height"},
	model.KindCrop:           {"width", "height", "gravity"},
	model.KindResizeCropAuto: {"width", "height"},
	model.KindExtract:        {"top", "left", "areawidth", "areaheight"},
	model.KindRotate:         {"angle"},
	model.KindBlur:           {"sigma"},
	model.KindGrayscale:      nil,
	model.KindWatermark:      {"image", "text", "opacity", "position"},
}

// Plan level keys, independent of stage position.
var globalKeys = map[string]bool{
	"format":    true,
	"quality":   true,
	"grayscale": true,
}

type stage struct {
	kind   model.Kind
	params map[string]string
}

// folded is the result of walking the raw query left to right.
type folded struct {
	stages  []*stage
	pool    map[string]string
	globals map[string]string
}

// lookup returns a stage parameter, falling back to the shared pool.
func (f *folded) lookup(s *stage, key string) (string, bool) {
	if v, ok := s.params[key]; ok {
		return v, true
	}
	v, ok := f.pool[key]
	return v, ok
}

func consumes(kind model.Kind, key string) bool {
	for _, k := range stageKeys[kind] {
		if k == key {
			return true
		}
	}
	return false
}

// fold splits the raw query into stages in declaration order.
// Duplicate keys in the same scope resolve to the last value.
func fold(rawQuery string) (*folded, error) {
	f := &folded{
		pool:    make(map[string]string),
		globals: make(map[string]string),
	}

	var current *stage
	for _, pair := range strings.Split(rawQuery, "&") {
		if pair == "" {
			continue
		}

		rawKey, rawValue, _ := strings.Cut(pair, "=")
		key, err := url.QueryUnescape(rawKey)
		if err != nil {
			return nil, model.NewError(model.ErrValidation, "malformed query key", err)
		}
		value, err := url.QueryUnescape(rawValue)
		if err != nil {
			return nil, model.NewError(model.ErrValidation, "malformed value for "+key, err)
		}
		key = strings.ToLower(strings.TrimSpace(key))

		switch {
		case key == "operation":
			kind := model.Kind(strings.ToLower(strings.TrimSpace(value)))
			if kind == "" {
				return nil, model.Errorf(model.ErrValidation, "operation parameter cannot be empty")
			}
			if _, ok := stageKeys[kind]; !ok {
				return nil, model.Errorf(model.ErrValidation, "unknown operation %q", value)
			}
			current = &stage{kind: kind, params: make(map[string]string)}
			f.stages = append(f.stages, current)
		case globalKeys[key]:
			f.globals[key] = value
		case current != nil && consumes(current.kind, key):
			current.params[key] = value
		default:
			f.pool[key] = value
		}
	}

	return f, nil
}
