// Package idgen derives short, content-addressed identifiers from binary
// digests. Commit IDs, block IDs, and snapshot IDs are all base36 encodings
// of a hash, matching the information-density tradeoff of a hex encoding
// without the extra characters.
package idgen

import (
	"strings"

	"math/big"
)

// base36Alphabet is the character set for base36 encoding (0-9, a-z).
const base36Alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// EncodeBase36 converts a byte slice to a base36 string of specified length,
// keeping the least-significant digits when the natural encoding is longer
// than requested and zero-padding on the left when it is shorter.
func EncodeBase36(data []byte, length int) string {
	num := new(big.Int).SetBytes(data)

	base := big.NewInt(36)
	zero := big.NewInt(0)
	mod := new(big.Int)

	chars := make([]byte, 0, length)
	for num.Cmp(zero) > 0 {
		num.DivMod(num, base, mod)
		chars = append(chars, base36Alphabet[mod.Int64()])
	}

	var result strings.Builder
	for i := len(chars) - 1; i >= 0; i-- {
		result.WriteByte(chars[i])
	}

	str := result.String()
	if len(str) < length {
		str = strings.Repeat("0", length-len(str)) + str
	}
	if len(str) > length {
		str = str[len(str)-length:]
	}
	return str
}

// CommitID derives a commit identifier from a 256-bit Merkle root. The full
// root is kept for verification (spec.md §6); the ID is a compact base36
// rendering used for lookups, logging, and cache keys.
func CommitID(root [32]byte) string {
	return EncodeBase36(root[:], 20)
}

// ShortID derives a generic content-addressed identifier of the requested
// length from arbitrary digest bytes — used for block IDs and snapshot IDs
// where full digest verification is not required.
func ShortID(digest []byte, length int) string {
	return EncodeBase36(digest, length)
}
