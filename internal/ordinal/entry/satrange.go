package entry

// SatRangeLength is the encoded width of a single stored SatRange chunk:
// an 8-byte big-endian start followed by a 3-byte big-endian length.
const SatRangeLength = 11

// maxChunkLength is the largest length representable in the 3-byte length
// field. Logical ranges longer than this (a full block subsidy routinely
// is) are split into consecutive chunks at encode time and reassembled at
// decode time.
const maxChunkLength = 1<<24 - 1 // 16,777,215

// SatRange is a half-open range of satoshi ordinals, [Start, End).
type SatRange struct {
	Start uint64
	End   uint64
}

// Length returns the number of satoshis covered by the range.
func (r SatRange) Length() uint64 {
	return r.End - r.Start
}

func putUint24(b []byte, v uint32) {
	b[0] = byte(v >> 16)
	b[1] = byte(v >> 8)
	b[2] = byte(v)
}

func uint24From(b []byte) uint32 {
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}

// EncodeSatRanges packs ranges into the table's on-disk value format. A
// range longer than maxChunkLength is split into multiple consecutive
// 11-byte entries covering contiguous sub-ranges; decoding merges
// adjacent entries whose boundaries touch back into a single logical
// range, so chunking is invisible to callers that round-trip through
// both functions.
func EncodeSatRanges(ranges []SatRange) []byte {
	buf := make([]byte, 0, len(ranges)*SatRangeLength)
	for _, r := range ranges {
		start := r.Start
		remaining := r.Length()
		if remaining == 0 {
			// A zero-length range still needs a representable entry so
			// the table never silently drops rows; store it as a single
			// zero-length chunk.
			entry := make([]byte, SatRangeLength)
			putUint64(entry[0:8], start)
			buf = append(buf, entry...)
			continue
		}
		for remaining > 0 {
			chunk := remaining
			if chunk > maxChunkLength {
				chunk = maxChunkLength
			}
			entry := make([]byte, SatRangeLength)
			putUint64(entry[0:8], start)
			putUint24(entry[8:11], uint32(chunk))
			buf = append(buf, entry...)
			start += chunk
			remaining -= chunk
		}
	}
	return buf
}

// DecodeSatRanges unpacks a table value into its logical ranges, merging
// consecutive stored chunks that are contiguous (the inverse of the
// chunking EncodeSatRanges performs for over-length ranges).
func DecodeSatRanges(b []byte) ([]SatRange, error) {
	if len(b)%SatRangeLength != 0 {
		return nil, corrupt("SatRange block", 0, len(b))
	}

	n := len(b) / SatRangeLength
	chunks := make([]SatRange, 0, n)
	for i := 0; i < n; i++ {
		e := b[i*SatRangeLength : (i+1)*SatRangeLength]
		start := uint64From(e[0:8])
		length := uint64(uint24From(e[8:11]))
		chunks = append(chunks, SatRange{Start: start, End: start + length})
	}

	merged := make([]SatRange, 0, n)
	for _, c := range chunks {
		if l := len(merged); l > 0 && merged[l-1].End == c.Start {
			merged[l-1].End = c.End
			continue
		}
		merged = append(merged, c)
	}
	return merged, nil
}

// TotalLength sums the lengths of a set of ranges, used to check a
// table value's total sat count against an expected output value.
func TotalLength(ranges []SatRange) uint64 {
	var total uint64
	for _, r := range ranges {
		total += r.Length()
	}
	return total
}
