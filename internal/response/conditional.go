package response

import (
	"net/http"
	"strings"
	"time"
)

// notModified evaluates If-None-Match, then If-Modified-Since.
// If-Modified-Since is ignored when If-None-Match is present.
func notModified(r *http.Request, etags []string, lastModified time.Time) bool {
	if inm := r.Header.Get("If-None-Match"); inm != "" {
		return etagListMatches(inm, etags, false)
	}

	ims := r.Header.Get("If-Modified-Since")
	if ims == "" || lastModified.IsZero() {
		return false
	}
	t, err := http.ParseTime(ims)
	if err != nil {
		return false
	}

	return !lastModified.Truncate(time.Second).After(t)
}

// rangeAllowed evaluates If-Range: the range applies only if the validator still matches.
func rangeAllowed(r *http.Request, etag string, lastModified time.Time) bool {
	ir := strings.TrimSpace(r.Header.Get("If-Range"))
	if ir == "" {
		return true
	}

	if strings.HasPrefix(ir, `"`) || strings.HasPrefix(ir, "W/") {
		return etagListMatches(ir, []string{etag}, true)
	}

	t, err := http.ParseTime(ir)
	if err != nil || lastModified.IsZero() {
		return false
	}
	return lastModified.Truncate(time.Second).Equal(t)
}

// etagListMatches reports whether any entity tag in the header list matches one of etags.
// Strong comparison rejects weak tags on either side.
func etagListMatches(header string, etags []string, strong bool) bool {
	if strings.TrimSpace(header) == "*" {
		return true
	}

	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "" {
			continue
		}
		for _, etag := range etags {
			if etag != "" && etagsEqual(candidate, etag, strong) {
				return true
			}
		}
	}

	return false
}

func etagsEqual(a, b string, strong bool) bool {
	weakA, weakB := strings.HasPrefix(a, "W/"), strings.HasPrefix(b, "W/")
	if strong && (weakA || weakB) {
		return false
	}
	return strings.TrimPrefix(a, "W/") == strings.TrimPrefix(b, "W/")
}
