package entry

// SatPointLength is the encoded width of a SatPoint.
const SatPointLength = OutPointLength + 8 // 36 + 8 = 44

// SatPoint locates a single satoshi: the outpoint currently holding it,
// plus its byte offset within that outpoint's concatenated sat ranges.
type SatPoint struct {
	OutPoint OutPoint
	Offset   uint64
}

// Store encodes the satpoint as its outpoint followed by an 8-byte
// big-endian offset.
func (s SatPoint) Store() []byte {
	b := make([]byte, SatPointLength)
	copy(b, s.OutPoint.Store())
	putUint64(b[OutPointLength:], s.Offset)
	return b
}

// LoadSatPoint decodes a SatPoint previously produced by Store.
func LoadSatPoint(b []byte) (SatPoint, error) {
	if len(b) != SatPointLength {
		return SatPoint{}, corrupt("SatPoint", SatPointLength, len(b))
	}
	op, err := LoadOutPoint(b[:OutPointLength])
	if err != nil {
		return SatPoint{}, err
	}
	return SatPoint{OutPoint: op, Offset: uint64From(b[OutPointLength:])}, nil
}
