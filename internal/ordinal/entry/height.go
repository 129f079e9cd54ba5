package entry

// HeightLength is the encoded width of a Height key.
const HeightLength = 8

// Store encodes h as an 8-byte big-endian key, giving HEIGHT_TO_BLOCK_HASH
// its ascending-by-height ordering for free under a byte-string-ordered
// store.
func (h Height) Store() []byte {
	b := make([]byte, HeightLength)
	putUint64(b, uint64(h))
	return b
}

// LoadHeight decodes a Height previously produced by Store.
func LoadHeight(b []byte) (Height, error) {
	if len(b) != HeightLength {
		return 0, corrupt("Height", HeightLength, len(b))
	}
	return Height(uint64From(b)), nil
}

// BlockHashLength is the width of a stored block hash (double-SHA256).
const BlockHashLength = 32
