package privacy

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskUserID(t *testing.T) {
	sum := sha256.Sum256([]byte("42"))
	assert.Equal(t, hex.EncodeToString(sum[:]), MaskUserID(42, ""))

	salted := sha256.Sum256([]byte("42pepper"))
	assert.Equal(t, hex.EncodeToString(salted[:]), MaskUserID(42, "pepper"))

	assert.Equal(t, MaskUserID(7, "s"), MaskUserID(7, "s"), "mask must be stable")
	assert.NotEqual(t, MaskUserID(7, "s"), MaskUserID(8, "s"))
	assert.NotEqual(t, MaskUserID(7, "a"), MaskUserID(7, "b"))
	assert.Len(t, MaskUserID(1, ""), 64)
}
