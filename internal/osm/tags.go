package osm

import (
	"unicode/utf8"

	"github.com/zerebubuth/openstreetmap-cgimap-sub000/internal/apierror"
)

// Tags is the key/value mapping carried by every element. Insertion
// order is irrelevant; the count is bounded by config.Limits.MaxTagsPerElement.
type Tags map[string]string

// Validate enforces §3.2's tag invariants: non-empty keys, a per-key/value
// codepoint bound, valid UTF-8, and a total count bound.
func (t Tags) Validate(maxTags, maxCodepoints int) error {
	if len(t) > maxTags {
		return apierror.BadRequest("too many tags: %d exceeds limit of %d", len(t), maxTags)
	}
	for k, v := range t {
		if k == "" {
			return apierror.BadRequest("tag key must not be empty")
		}
		if !utf8.ValidString(k) || !utf8.ValidString(v) {
			return apierror.BadRequest("tag %q has invalid UTF-8", k)
		}
		if utf8.RuneCountInString(k) > maxCodepoints {
			return apierror.BadRequest("tag key %q exceeds %d codepoints", k, maxCodepoints)
		}
		if utf8.RuneCountInString(v) > maxCodepoints {
			return apierror.BadRequest("tag value for key %q exceeds %d codepoints", k, maxCodepoints)
		}
	}
	return nil
}
