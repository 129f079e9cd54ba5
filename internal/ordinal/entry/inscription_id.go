package entry

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// InscriptionIdLength is the encoded width of an InscriptionId: 32 bytes
// of txid plus a 4-byte index field reserved for forward compatibility
// with formats that allow more than one inscription per transaction.
const InscriptionIdLength = chainhash.HashSize + 4 // 32 + 4 = 36

// InscriptionId identifies an inscription by the transaction that first
// revealed it. Index is always 0 for inscriptions produced by this
// indexer (one envelope per transaction is all the core algorithm
// tracks); the field exists so the on-disk format does not need to
// change if that is ever relaxed.
type InscriptionId struct {
	TxID  chainhash.Hash
	Index uint32
}

// Store encodes the id as its txid followed by a 4-byte big-endian index.
func (id InscriptionId) Store() []byte {
	b := make([]byte, InscriptionIdLength)
	copy(b, id.TxID[:])
	putUint32(b[chainhash.HashSize:], id.Index)
	return b
}

// LoadInscriptionId decodes an InscriptionId previously produced by Store.
func LoadInscriptionId(b []byte) (InscriptionId, error) {
	if len(b) != InscriptionIdLength {
		return InscriptionId{}, corrupt("InscriptionId", InscriptionIdLength, len(b))
	}
	var id InscriptionId
	copy(id.TxID[:], b[:chainhash.HashSize])
	id.Index = uint32From(b[chainhash.HashSize:])
	return id, nil
}

// String renders the id in the conventional "<txid>i<index>" form.
func (id InscriptionId) String() string {
	return fmt.Sprintf("%si%d", id.TxID.String(), id.Index)
}
