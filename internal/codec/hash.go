package codec

import (
	"crypto/subtle"

	"github.com/zeebo/blake3"
)

// Checksum is a 32-byte BLAKE3 digest.
type Checksum [32]byte

// checkpointDomainKey separates checkpoint checksums from any other
// BLAKE3 use. Changing it invalidates every stored checksum.
var checkpointDomainKey = [32]byte{
	't', 'a', 't', 'a', 'k', 'e', '.', 'c', 'h', 'e', 'c', 'k', 'p', 'o', 'i', 'n',
	't', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// Sum computes the keyed checksum of data.
func Sum(data []byte) Checksum {
	hasher, err := blake3.NewKeyed(checkpointDomainKey[:])
	if err != nil {
		panic("codec: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(data)
	var sum Checksum
	copy(sum[:], hasher.Sum(nil))
	return sum
}

// Verify reports whether want is the checksum of data.
func Verify(data, want []byte) bool {
	got := Sum(data)
	return subtle.ConstantTimeCompare(got[:], want) == 1
}
