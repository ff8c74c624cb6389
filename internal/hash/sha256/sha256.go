// Package sha256 fingerprints record sets so subscribers of run notices can
// tell whether two runs returned the same data.
package sha256

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"

	"github.com/JakeFAU/patent-crawler/internal/crawler"
)

// Digester implements crawler.Digester using SHA-256.
type Digester struct{}

// New returns a SHA-256 digester.
func New() *Digester {
	return &Digester{}
}

// Digest hashes records in order and returns a hex digest. Every field is
// length-prefixed, so moving text between adjacent fields changes the sum.
func (Digester) Digest(records []crawler.PatentRecord) string {
	h := sha256.New()
	writeLen(h, len(records))
	for _, rec := range records {
		for _, v := range []string{
			rec.Title, rec.Abstract, rec.PatentID, rec.Link, rec.Claims, rec.Description,
			rec.Inventor, rec.Assignee, rec.Classification, rec.Citations, rec.DatePublished,
		} {
			writeLen(h, len(v))
			h.Write([]byte(v))
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

func writeLen(h hash.Hash, n int) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(n))
	h.Write(buf[:])
}
