// Package privacy holds the one-way transforms applied to user ids before
// they are written to durable abuse records.
package privacy

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// MaskUserID returns a stable hex token for id. The salt is appended to
// the decimal id before hashing; an empty salt is skipped.
func MaskUserID(id int64, salt string) string {
	h := sha256.New()
	h.Write([]byte(strconv.FormatInt(id, 10)))
	if salt != "" {
		h.Write([]byte(salt))
	}
	return hex.EncodeToString(h.Sum(nil))
}
