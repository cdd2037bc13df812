package parser

import (
	"strings"

	"github.com/munnerz/goautoneg"

	"github.com/aliskhannn/image-gateway/internal/model"
)

// negotiable lists formats chosen from Accept, in tie-break order.
var negotiable = []model.Format{
	model.FormatWebP,
	model.FormatJPEG,
	model.FormatPNG,
	model.FormatGIF,
}

// NegotiateFormat picks the best explicitly listed image type from an Accept header.
// Wildcards never select a format, so "*/*" and "image/*" keep the origin's format.
// An empty result means no preference.
func NegotiateFormat(accept string) model.Format {
	if strings.TrimSpace(accept) == "" {
		return ""
	}

	var (
		best  model.Format
		bestQ float64
		rank  = len(negotiable)
	)
	for _, clause := range goautoneg.ParseAccept(accept) {
		if clause.Type != "image" || clause.SubType == "*" || clause.Q <= 0 {
			continue
		}
		format, ok := model.ParseFormat(clause.SubType)
		if !ok {
			continue
		}
		r := rankOf(format)
		if r < 0 {
			continue
		}
		if clause.Q > bestQ || (clause.Q == bestQ && r < rank) {
			best, bestQ, rank = format, clause.Q, r
		}
	}

	return best
}

func rankOf(f model.Format) int {
	for i, n := range negotiable {
		if n == f {
			return i
		}
	}
	return -1
}
