package controller

import (
	"crypto/sha256"
	"encoding/hex"
)

// Signature fingerprints the in-memory document. Two documents with the
// same title, tag and content always produce the same signature; the save
// path uses it to skip writes when nothing actually changed.
func Signature(title, engineTag, content string) string {
	h := sha256.New()
	for _, part := range []string{title, engineTag, content} {
		// Length prefix keeps ("ab","c") distinct from ("a","bc").
		var n = len(part)
		h.Write([]byte{byte(n >> 24), byte(n >> 16), byte(n >> 8), byte(n)})
		h.Write([]byte(part))
	}
	return hex.EncodeToString(h.Sum(nil))
}
