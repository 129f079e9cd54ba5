package entry

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// OutPointLength is the encoded width of an OutPoint.
const OutPointLength = chainhash.HashSize + 4 // 32 + 4 = 36

// OutPoint identifies a transaction output: the creating transaction's
// hash plus its output index.
type OutPoint struct {
	Hash  chainhash.Hash
	Index uint32
}

// NullOutPoint is the sentinel outpoint used as the "lost sats" bucket:
// it is never a real transaction output, matching the coinbase convention
// of an all-zero hash with index 0xffffffff.
var NullOutPoint = OutPoint{Index: 0xffffffff}

// IsNull reports whether o is the lost-sats sentinel outpoint.
func (o OutPoint) IsNull() bool {
	return o == NullOutPoint
}

// Store encodes the outpoint as hash bytes followed by a 4-byte
// big-endian index.
func (o OutPoint) Store() []byte {
	b := make([]byte, OutPointLength)
	copy(b, o.Hash[:])
	putUint32(b[chainhash.HashSize:], o.Index)
	return b
}

// LoadOutPoint decodes an OutPoint previously produced by Store.
func LoadOutPoint(b []byte) (OutPoint, error) {
	if len(b) != OutPointLength {
		return OutPoint{}, corrupt("OutPoint", OutPointLength, len(b))
	}
	var o OutPoint
	copy(o.Hash[:], b[:chainhash.HashSize])
	o.Index = uint32From(b[chainhash.HashSize:])
	return o, nil
}
