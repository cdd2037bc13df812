// Package fingerprint derives cache keys from origin identity, plan and representation.
package fingerprint

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"

	"github.com/aliskhannn/image-gateway/internal/model"
)

// version is bumped whenever the serialization below changes.
const version = "v1"

// Of returns the fingerprint of a transformed representation.
// Fields are written length-prefixed in a fixed order so no two inputs share a serialization.
func Of(origin model.Origin, plan model.Plan) string {
	h := sha256.New()

	writeField(h, version)
	writeField(h, origin.Bucket)
	writeField(h, origin.Key)
	writeField(h, origin.ETag)
	writeInt(h, origin.LastModified.UnixNano())
	writeField(h, plan.Canonical())
	writeField(h, string(plan.Format))
	writeInt(h, int64(plan.Quality))

	return hex.EncodeToString(h.Sum(nil))
}

// Encoded returns the fingerprint of a content-encoded variant of base.
func Encoded(base, encoding string) string {
	if encoding == "" || encoding == "identity" {
		return base
	}

	h := sha256.New()
	writeField(h, version)
	writeField(h, base)
	writeField(h, encoding)

	return hex.EncodeToString(h.Sum(nil))
}

func writeField(h hash.Hash, s string) {
	writeInt(h, int64(len(s)))
	h.Write([]byte(s))
}

func writeInt(h hash.Hash, n int64) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(n))
	h.Write(buf[:])
}
