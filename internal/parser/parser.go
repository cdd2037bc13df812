// Package parser turns a request path and query into a validated, ordered transform plan.
package parser

import (
	"net/http"
	"sort"
	"strings"

	"github.com/aliskhannn/image-gateway/internal/model"
	"github.com/aliskhannn/image-gateway/internal/netguard"
)

// Limits bounds what a single request may ask for.
type Limits struct {
	MaxDimension  int
	MaxOperations int
	MaxSigma      float64
}

// Request is a parsed, validated gateway request. Nothing in it has touched storage yet.
type Request struct {
	Bucket string
	Key    string
	Preset string
	Plan   model.Plan
}

// Parser parses and validates transform requests.
type Parser struct {
	limits  Limits
	guard   netguard.Policy
	presets *Presets
}

// New creates a Parser. A nil presets registry means no preset is known.
func New(limits Limits, guard netguard.Policy, presets *Presets) *Parser {
	if presets == nil {
		presets = NewPresets()
	}
	return &Parser{limits: limits, guard: guard, presets: presets}
}

// Presets returns the registry used to resolve preset path segments.
func (p *Parser) Presets() *Presets {
	return p.presets
}

// Parse validates the whole request before any origin or cache work happens:
// path syntax first, then the preset name, then the query, then Accept negotiation.
func (p *Parser) Parse(path, rawQuery string, header http.Header) (Request, error) {
	bucket, key, preset, err := splitPath(path)
	if err != nil {
		return Request{}, err
	}

	req := Request{Bucket: bucket, Key: key, Preset: preset}

	if preset != "" {
		base, ok := p.presets.Lookup(preset)
		if !ok {
			return Request{}, invalid("unknown preset %q", preset)
		}
		req.Plan, err = p.overridePreset(base, rawQuery)
	} else {
		req.Plan, err = p.ParseQuery(rawQuery)
	}
	if err != nil {
		return Request{}, err
	}

	if req.Plan.Format == "" && !req.Plan.IsIdentity() {
		req.Plan.Format = NegotiateFormat(header.Get("Accept"))
	}

	return req, nil
}

// ParseQuery builds a plan from a raw query string.
func (p *Parser) ParseQuery(rawQuery string) (model.Plan, error) {
	f, err := fold(rawQuery)
	if err != nil {
		return model.Plan{}, err
	}

	if len(f.stages) == 0 {
		// width/height without an operation imply a single resize
		_, hasW := f.pool["width"]
		_, hasH := f.pool["height"]
		if hasW || hasH {
			f.stages = append(f.stages, &stage{kind: model.KindResize, params: map[string]string{}})
		}
	}

	if p.limits.MaxOperations > 0 && len(f.stages) > p.limits.MaxOperations {
		return model.Plan{}, model.Errorf(model.ErrLimitExceeded, "too many operations: %d > %d", len(f.stages), p.limits.MaxOperations)
	}

	var plan model.Plan
	for _, s := range f.stages {
		op, err := p.buildOperation(f, s)
		if err != nil {
			return model.Plan{}, err
		}
		plan.Operations = append(plan.Operations, op)
	}

	if err := applyGlobals(&plan, f.globals); err != nil {
		return model.Plan{}, err
	}

	if err := p.checkPool(f); err != nil {
		return model.Plan{}, err
	}

	return plan, nil
}

// checkPool validates every pooled value of a recognized key, used or not.
func (p *Parser) checkPool(f *folded) error {
	keys := make([]string, 0, len(f.pool))
	for k := range f.pool {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if err := p.checkPooled(k, f.pool[k]); err != nil {
			return err
		}
	}
	return nil
}

// overridePreset applies the plan level keys of the request query on top of a preset.
func (p *Parser) overridePreset(base model.Plan, rawQuery string) (model.Plan, error) {
	f, err := fold(rawQuery)
	if err != nil {
		return model.Plan{}, err
	}

	plan := model.Plan{
		Operations: append([]model.Operation(nil), base.Operations...),
		Format:     base.Format,
		Quality:    base.Quality,
	}
	if err := applyGlobals(&plan, f.globals); err != nil {
		return model.Plan{}, err
	}
	if err := p.checkPool(f); err != nil {
		return model.Plan{}, err
	}

	return plan, nil
}

func applyGlobals(plan *model.Plan, globals map[string]string) error {
	if v, ok := globals["format"]; ok {
		if strings.TrimSpace(v) == "" {
			return invalid("empty parameter value for format")
		}
		format, ok := model.ParseFormat(strings.TrimSpace(v))
		if !ok {
			return model.Errorf(model.ErrUnsupported, "unsupported output format %q", v)
		}
		plan.Format = format
	}

	if v, ok := globals["quality"]; ok {
		q, err := parseQuality(v)
		if err != nil {
			return err
		}
		plan.Quality = q
	}

	if v, ok := globals["grayscale"]; ok {
		on, err := parseFlag("grayscale", v)
		if err != nil {
			return err
		}
		if on && !hasKind(plan.Operations, model.KindGrayscale) {
			plan.Operations = append(plan.Operations, model.Operation{Kind: model.KindGrayscale})
		}
	}

	return nil
}

func hasKind(ops []model.Operation, kind model.Kind) bool {
	for _, op := range ops {
		if op.Kind == kind {
			return true
		}
	}
	return false
}

// buildOperation validates the parameters of one stage.
func (p *Parser) buildOperation(f *folded, s *stage) (model.Operation, error) {
	op := model.Operation{Kind: s.kind}
	var err error

	switch s.kind {
	case model.KindResize:
		w, hasW := f.lookup(s, "width")
		h, hasH := f.lookup(s, "height")
		if !hasW && !hasH {
			return op, invalid("at least one of width or height must be specified for resize")
		}
		if hasW {
			if op.Width, err = p.dimension("width", w); err != nil {
				return op, err
			}
		}
		if hasH {
			if op.Height, err = p.dimension("height", h); err != nil {
				return op, err
			}
		}

	case model.KindCrop, model.KindResizeCropAuto:
		w, hasW := f.lookup(s, "width")
		h, hasH := f.lookup(s, "height")
		if !hasW || !hasH {
			return op, invalid("%s requires width and height", s.kind)
		}
		if op.Width, err = p.dimension("width", w); err != nil {
			return op, err
		}
		if op.Height, err = p.dimension("height", h); err != nil {
			return op, err
		}
		if s.kind == model.KindResizeCropAuto {
			break
		}
		op.Gravity = "center"
		if g, ok := f.lookup(s, "gravity"); ok {
			if op.Gravity, err = parseGravity(g); err != nil {
				return op, err
			}
		}

	case model.KindExtract:
		fields := []struct {
			key string
			dst *int
			dim bool
		}{
			{"top", &op.Top, false},
			{"left", &op.Left, false},
			{"areawidth", &op.AreaWidth, true},
			{"areaheight", &op.AreaHeight, true},
		}
		for _, fl := range fields {
			v, ok := f.lookup(s, fl.key)
			if !ok {
				return op, invalid("extract requires %s", fl.key)
			}
			if fl.dim {
				*fl.dst, err = p.dimension(fl.key, v)
			} else {
				*fl.dst, err = p.coordinate(fl.key, v)
			}
			if err != nil {
				return op, err
			}
		}

	case model.KindRotate:
		v, ok := f.lookup(s, "angle")
		if !ok {
			return op, invalid("angle parameter is required for rotate")
		}
		if op.Angle, err = parseAngle(v); err != nil {
			return op, err
		}

	case model.KindBlur:
		v, ok := f.lookup(s, "sigma")
		if !ok {
			return op, invalid("sigma parameter is required for blur")
		}
		if op.Sigma, err = p.parseSigma(v); err != nil {
			return op, err
		}

	case model.KindGrayscale:

	case model.KindWatermark:
		wm, err := p.buildWatermark(f, s)
		if err != nil {
			return op, err
		}
		op.Watermark = wm
	}

	return op, nil
}

func (p *Parser) buildWatermark(f *folded, s *stage) (*model.Watermark, error) {
	wm := &model.Watermark{}

	image, hasImage := f.lookup(s, "image")
	text, hasText := f.lookup(s, "text")
	switch {
	case hasImage && strings.TrimSpace(image) != "":
		if _, err := p.guard.CheckURL(strings.TrimSpace(image)); err != nil {
			return nil, model.NewError(model.ErrValidation, "invalid watermark image url", err)
		}
		wm.Image = strings.TrimSpace(image)
	case hasText && strings.TrimSpace(text) != "":
		wm.Text = text
	default:
		return nil, invalid("watermark requires a non-empty image or text")
	}

	o, ok := f.lookup(s, "opacity")
	if !ok {
		return nil, invalid("opacity parameter is required for watermark")
	}
	var err error
	if wm.Opacity, err = parseOpacity(o); err != nil {
		return nil, err
	}

	pos, ok := f.lookup(s, "position")
	if !ok {
		return nil, invalid("position parameter is required for watermark")
	}
	if wm.Position, err = parsePosition(pos); err != nil {
		return nil, err
	}

	return wm, nil
}

// splitPath extracts bucket, key and an optional preset from /{bucket}/{key}[/{preset}].
// A trailing segment is a preset when it has no extension and the segment before it has one.
func splitPath(path string) (bucket, key, preset string, err error) {
	if strings.ContainsAny(path, "\x00\r\n\\") {
		return "", "", "", invalid("invalid characters in path")
	}

	trimmed := strings.Trim(path, "/")
	segments := strings.Split(trimmed, "/")
	if len(segments) < 2 {
		return "", "", "", invalid("path must be /{bucket}/{key}")
	}

	for _, seg := range segments {
		if seg == "" || seg == "." || seg == ".." {
			return "", "", "", invalid("invalid path segment %q", seg)
		}
	}

	bucket = segments[0]
	rest := segments[1:]

	if n := len(rest); n >= 2 && !strings.Contains(rest[n-1], ".") && strings.Contains(rest[n-2], ".") {
		preset = rest[n-1]
		rest = rest[:n-1]
	}

	return bucket, strings.Join(rest, "/"), preset, nil
}

// ResolveFormat fills in the output format from the origin's content type when
// neither the query nor Accept chose one. Identity plans keep the native bytes.
func ResolveFormat(plan model.Plan, originContentType string) (model.Plan, error) {
	if plan.IsIdentity() || plan.Format != "" {
		return plan, nil
	}

	native, ok := model.FormatFromContentType(originContentType)
	if !ok {
		return plan, model.Errorf(model.ErrUnsupported, "cannot transform content type %q", originContentType)
	}
	plan.Format = native

	return plan, nil
}
