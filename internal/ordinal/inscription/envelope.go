// Package inscription detects and parses ordinal inscription envelopes
// from transaction witness data, and tracks them through a transaction
// via the flotsam algorithm (flotsam.go). Envelope parsing is grounded
// on BoostyLabs's blockchain/bitcoin/ord/inscriptions package: disasm
// the witness script with txscript.DisasmString, locate the
// OP_FALSE OP_IF "ord" ... OP_ENDIF bracket by substring search, then
// walk the pushes between them as tag/value pairs.
package inscription

import (
	"encoding/hex"
	"errors"
	"strings"

	"github.com/btcsuite/btcd/txscript"
)

// ErrMalformed is returned for witness data that starts an envelope but
// never closes it, or whose tag/value pushes don't line up.
var ErrMalformed = errors.New("inscription: malformed envelope")

// Tag identifies a field inside an inscription envelope. Values follow
// the convention that even tags are understood by every indexer version
// and odd tags may be safely ignored if unrecognized; this indexer only
// ever reads tags, so the distinction is informational.
type Tag byte

const (
	TagContentType     Tag = 1
	TagPointer         Tag = 2
	TagParent          Tag = 3
	TagMetadata        Tag = 5
	TagMetaprotocol    Tag = 7
	TagContentEncoding Tag = 9
	TagDelegate        Tag = 11
)

func (t Tag) hexString() string {
	return hex.EncodeToString([]byte{byte(t)})
}

const (
	envelopeStartDisasm = "0 OP_IF 6f7264" // OP_FALSE OP_IF <push "ord">
	envelopeEndDisasm   = "OP_ENDIF"
)

// Envelope is a parsed inscription envelope's field set. Unrecognized
// tags are skipped rather than rejected, matching the protocol's
// forward-compatibility rule for odd tags.
type Envelope struct {
	ContentType     []byte
	ContentEncoding []byte
	Metadata        []byte
	Metaprotocol    []byte
	Parent          []byte
	Delegate        []byte
	Pointer         []byte
	Body            []byte
}

// FindEnvelope scans a transaction input's witness stack for the first
// item containing a parseable inscription envelope, trying each item as
// a candidate script in witness order (taproot script-path spends place
// the revealed script in one specific item, but its position varies
// with the spend's control-block depth, so every item is a candidate).
func FindEnvelope(witness [][]byte) (*Envelope, bool) {
	for _, item := range witness {
		if env, err := ParseEnvelope(item); err == nil {
			return env, true
		}
	}
	return nil, false
}

// ParseEnvelope parses a single witness item as an inscription envelope.
func ParseEnvelope(script []byte) (*Envelope, error) {
	disasm, err := txscript.DisasmString(script)
	if err != nil {
		return nil, ErrMalformed
	}

	start := strings.Index(disasm, envelopeStartDisasm)
	if start == -1 {
		return nil, ErrMalformed
	}
	end := strings.Index(disasm[start:], envelopeEndDisasm)
	if end == -1 {
		return nil, ErrMalformed
	}
	end += start + len(envelopeEndDisasm)

	tokens := strings.Split(disasm[start:end], " ")
	// OP_FALSE(0) OP_IF "ord"(6f7264) at minimum, then ... OP_ENDIF.
	if len(tokens) < 4 {
		return nil, ErrMalformed
	}
	tokens = tokens[3:] // drop "0 OP_IF 6f7264"

	env := &Envelope{}
	for len(tokens) > 0 {
		tok := tokens[0]
		tokens = tokens[1:]

		if tok == envelopeEndDisasm {
			return env, nil
		}
		if tok == "0" {
			body, err := readBody(tokens)
			if err != nil {
				return nil, err
			}
			env.Body = body
			return env, nil
		}

		if len(tokens) == 0 {
			return nil, ErrMalformed
		}
		value := tokens[0]
		tokens = tokens[1:]

		valueBytes, err := hex.DecodeString(value)
		if err != nil && value != "0" {
			return nil, ErrMalformed
		}

		// A one-byte push of 1..16 is encoded as OP_1..OP_16, which
		// DisasmString renders in decimal; map the unambiguous single-digit
		// forms back to the tag's hex spelling.
		if len(tok) == 1 && tok >= "1" && tok <= "9" {
			tok = "0" + tok
		}

		switch tok {
		case TagContentType.hexString():
			env.ContentType = valueBytes
		case TagContentEncoding.hexString():
			env.ContentEncoding = valueBytes
		case TagMetadata.hexString():
			env.Metadata = valueBytes
		case TagMetaprotocol.hexString():
			env.Metaprotocol = valueBytes
		case TagParent.hexString():
			env.Parent = valueBytes
		case TagDelegate.hexString():
			env.Delegate = valueBytes
		case TagPointer.hexString():
			env.Pointer = valueBytes
		default:
			// Unrecognized tag: skip, per the odd-tag forward
			// compatibility rule.
		}
	}

	return nil, ErrMalformed
}

// readBody concatenates every data push up to OP_ENDIF into the
// inscription's body, the same way multi-push bodies are chunked back
// together on the write side (see PrepareBody-equivalent content
// chunking in envelope construction elsewhere in the ord ecosystem).
func readBody(tokens []string) ([]byte, error) {
	var body []byte
	for _, tok := range tokens {
		if tok == envelopeEndDisasm {
			return body, nil
		}
		chunk, err := hex.DecodeString(tok)
		if err != nil {
			return nil, ErrMalformed
		}
		body = append(body, chunk...)
	}
	return nil, ErrMalformed
}
