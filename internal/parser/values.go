package parser

import (
	"math"
	"strconv"
	"strings"

	"github.com/aliskhannn/image-gateway/internal/model"
)

func invalid(format string, args ...any) error {
	return model.Errorf(model.ErrValidation, format, args...)
}

func parseInt(key, v string) (int, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, invalid("empty parameter value for %s", key)
	}
	n, err := strconv.ParseInt(v, 10, 32)
	if err != nil {
		return 0, invalid("invalid %s value %q", key, v)
	}
	return int(n), nil
}

func parseFloat(key, v string) (float64, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, invalid("empty parameter value for %s", key)
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, invalid("invalid %s value %q", key, v)
	}
	return f, nil
}

// dimension parses a strictly positive pixel size bounded by max.
func (p *Parser) dimension(key, v string) (int, error) {
	n, err := parseInt(key, v)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, invalid("parameter %s cannot be negative", key)
	}
	if n == 0 {
		return 0, invalid("parameter %s cannot be zero", key)
	}
	if p.limits.MaxDimension > 0 && n > p.limits.MaxDimension {
		return 0, model.Errorf(model.ErrLimitExceeded, "parameter %s exceeds %d", key, p.limits.MaxDimension)
	}
	return n, nil
}

func (p *Parser) coordinate(key, v string) (int, error) {
	n, err := parseInt(key, v)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, invalid("parameter %s cannot be negative", key)
	}
	if p.limits.MaxDimension > 0 && n > p.limits.MaxDimension {
		return 0, model.Errorf(model.ErrLimitExceeded, "parameter %s exceeds %d", key, p.limits.MaxDimension)
	}
	return n, nil
}

func parseQuality(v string) (int, error) {
	q, err := parseInt("quality", v)
	if err != nil {
		return 0, err
	}
	if q < 1 || q > 100 {
		return 0, invalid("quality must be between 1 and 100")
	}
	return q, nil
}

func parseOpacity(v string) (float64, error) {
	o, err := parseFloat("opacity", v)
	if err != nil {
		return 0, err
	}
	if o < 0 || o > 1 {
		return 0, invalid("opacity must be between 0 and 1")
	}
	return o, nil
}

func (p *Parser) parseSigma(v string) (float64, error) {
	s, err := parseFloat("sigma", v)
	if err != nil {
		return 0, err
	}
	if s <= 0 {
		return 0, invalid("sigma must be positive")
	}
	if p.limits.MaxSigma > 0 && s > p.limits.MaxSigma {
		return 0, model.Errorf(model.ErrLimitExceeded, "sigma exceeds %g", p.limits.MaxSigma)
	}
	return s, nil
}

// parseAngle accepts any real number of degrees and normalizes it to [0, 360).
func parseAngle(v string) (float64, error) {
	a, err := parseFloat("angle", v)
	if err != nil {
		return 0, err
	}
	a = math.Mod(a, 360)
	if a < 0 {
		a += 360
	}
	if a == 0 {
		a = 0 // drop negative zero
	}
	return a, nil
}

// parseFlag reads boolean switches like grayscale, where a bare key means true.
func parseFlag(key, v string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	}
	return false, invalid("invalid %s value %q", key, v)
}

var (
	positionsY = map[string]bool{"top": true, "center": true, "bottom": true}
	positionsX = map[string]bool{"left": true, "center": true, "right": true}
)

func parsePosition(v string) (string, error) {
	v = strings.ToLower(strings.TrimSpace(v))
	y, x, ok := strings.Cut(v, "-")
	if !ok || !positionsY[y] || !positionsX[x] {
		return "", invalid("invalid watermark position %q", v)
	}
	return v, nil
}

var gravities = map[string]bool{
	"center": true, "north": true, "south": true, "east": true, "west": true,
	"northeast": true, "northwest": true, "southeast": true, "southwest": true,
}

// checkPooled syntax-checks one pooled parameter value.
// Unknown keys are ignored.
func (p *Parser) checkPooled(key, v string) error {
	var err error
	switch key {
	case "width", "height", "areawidth", "areaheight":
		_, err = p.dimension(key, v)
	case "top", "left":
		_, err = p.coordinate(key, v)
	case "angle":
		_, err = parseAngle(v)
	case "sigma":
		_, err = p.parseSigma(v)
	case "opacity":
		_, err = parseOpacity(v)
	case "position":
		_, err = parsePosition(v)
	case "gravity":
		_, err = parseGravity(v)
	case "image":
		if strings.TrimSpace(v) != "" {
			if _, cerr := p.guard.CheckURL(strings.TrimSpace(v)); cerr != nil {
				err = model.NewError(model.ErrValidation, "invalid watermark image url", cerr)
			}
		}
	}
	return err
}

func parseGravity(v string) (string, error) {
	v = strings.ToLower(strings.TrimSpace(v))
	if !gravities[v] {
		return "", invalid("invalid gravity %q", v)
	}
	return v, nil
}
