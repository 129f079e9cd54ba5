package inscription

import (
	"sort"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/ordindexer/ordindexer/internal/ordinal/entry"
	"github.com/ordindexer/ordindexer/internal/ordinal/satrange"
	"github.com/ordindexer/ordindexer/internal/ordinal/store"
)

// OriginKind distinguishes a flotsam's provenance. Modeled as an enum
// field plus two mutually exclusive payload fields rather than a shared
// interface, since Go has no sum types and this keeps both branches
// inspectable without a type switch.
type OriginKind int

const (
	OriginOld OriginKind = iota
	OriginNew
)

// Origin is a flotsam's tagged-union provenance: OldSatpoint is valid
// iff Kind == OriginOld (the inscription was carried in by a spent
// input); Fee is valid iff Kind == OriginNew (the inscription was
// created in this transaction, and Fee is input_value minus the sum of
// this transaction's output values).
type Origin struct {
	Kind        OriginKind
	OldSatpoint entry.SatPoint
	Fee         uint64
}

// Flotsam is an inscription floating through a transaction at Offset
// satoshis from the start of its inputs, waiting to land in whichever
// output's value window contains that offset.
type Flotsam struct {
	InscriptionID entry.InscriptionId
	Offset        uint64
	Origin        Origin
}

// TxInput is the subset of an input's data the tracker needs: the
// outpoint it spends (to find inscriptions already sitting on it) and,
// for input 0 only, the witness stack to search for a new envelope.
type TxInput struct {
	Outpoint entry.OutPoint
	Value    uint64
	Witness  [][]byte
}

// TxOutput is the subset of an output's data the tracker needs.
type TxOutput struct {
	Value uint64
}

// Landing is an inscription location change applied by ProcessTransaction
// or ProcessCoinbase, for callers that mirror current locations to an
// external sink.
type Landing struct {
	InscriptionID entry.InscriptionId
	Satpoint      entry.SatPoint
}

// Tracker drives the flotsam algorithm against a single in-flight write
// transaction. One Tracker is reused across an entire block.
type Tracker struct {
	tx                     *store.WriteTx
	indexSats              bool
	firstInscriptionHeight entry.Height
	landed                 []Landing
}

// New constructs a Tracker bound to wtx. firstInscriptionHeight gates
// detection of brand-new inscriptions below that height (the
// --first-inscription-height bootstrap optimization); it never gates
// sat-range accounting.
func New(wtx *store.WriteTx, indexSats bool, firstInscriptionHeight entry.Height) *Tracker {
	return &Tracker{tx: wtx, indexSats: indexSats, firstInscriptionHeight: firstInscriptionHeight}
}

// Landed returns every inscription location change this tracker has
// applied so far, across however many ProcessTransaction/ProcessCoinbase
// calls it has seen. Intended for an optional external mirror sink.
func (t *Tracker) Landed() []Landing {
	return t.landed
}

// ProcessTransaction runs one non-coinbase transaction through the
// flotsam algorithm: it gathers Old flotsam from every input's existing
// satpoints, optionally emits a New flotsam for input 0's envelope, then
// peels sorted flotsam into output windows in order, persisting each
// landed inscription. Flotsam whose offset lies beyond every output
// (paid as fee) is returned uncommitted, for the caller to fold into the
// block's coinbase processing via AdjustForCoinbase.
//
// inputRanges is the transaction's concatenated input sat-range FIFO
// (satrange.Queue's view before any Take calls), used only to resolve
// the sat a New inscription sits on; pass nil when the sat index is
// off.
func (t *Tracker) ProcessTransaction(
	height entry.Height,
	timestamp uint32,
	txid chainhash.Hash,
	inputs []TxInput,
	outputs []TxOutput,
	inputRanges []entry.SatRange,
) ([]Flotsam, error) {
	var inputValue uint64
	var flotsam []Flotsam

	var cumulative uint64
	for _, in := range inputs {
		rows, err := t.tx.Reader().InscriptionsOnOutpoint(in.Outpoint)
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			flotsam = append(flotsam, Flotsam{
				InscriptionID: row.ID,
				Offset:        cumulative + row.Satpoint.Offset,
				Origin:        Origin{Kind: OriginOld, OldSatpoint: row.Satpoint},
			})
		}
		cumulative += in.Value
		inputValue += in.Value
	}

	var outputValue uint64
	for _, out := range outputs {
		outputValue += out.Value
	}

	if height >= t.firstInscriptionHeight && len(inputs) > 0 {
		if env, ok := FindEnvelope(inputs[0].Witness); ok {
			_ = env // content fields are not persisted in the core index

			alreadyAtZero := false
			for _, f := range flotsam {
				if f.Offset == 0 {
					alreadyAtZero = true
					break
				}
			}
			// Inscriptions on the same sat after the first are ignored.
			if !alreadyAtZero {
				var fee uint64
				if inputValue > outputValue {
					fee = inputValue - outputValue
				}
				flotsam = append(flotsam, Flotsam{
					InscriptionID: entry.InscriptionId{TxID: txid, Index: 0},
					Offset:        0,
					Origin:        Origin{Kind: OriginNew, Fee: fee},
				})
			}
		}
	}

	sort.SliceStable(flotsam, func(i, j int) bool { return flotsam[i].Offset < flotsam[j].Offset })

	var outputStart uint64
	fi := 0
	for oi, out := range outputs {
		outputEnd := outputStart + out.Value
		for fi < len(flotsam) && flotsam[fi].Offset < outputEnd {
			f := flotsam[fi]
			newSatpoint := entry.SatPoint{
				OutPoint: entry.OutPoint{Hash: txid, Index: uint32(oi)},
				Offset:   f.Offset - outputStart,
			}
			if err := t.applyFlotsam(f, newSatpoint, height, timestamp, inputRanges); err != nil {
				return nil, err
			}
			fi++
		}
		outputStart = outputEnd
	}

	return flotsam[fi:], nil
}

// AdjustForCoinbase re-expresses a flotsam carried out of a fee-paying
// transaction in terms of the coinbase's input offset space: reward
// already accounted for from earlier transactions in the block, plus
// this flotsam's position past its own transaction's outputs.
func AdjustForCoinbase(f Flotsam, outputValue, rewardSoFar uint64) Flotsam {
	f.Offset = rewardSoFar + (f.Offset - outputValue)
	return f
}

// ProcessCoinbase peels carried flotsam (already expressed in the
// coinbase's input offset space via AdjustForCoinbase) into the
// coinbase's own outputs, the same way ProcessTransaction does for a
// regular transaction. Anything left over is lost: it lands on the
// null outpoint at lostSatsBase plus its offset past the coinbase's
// outputs, lining up with wherever the sat-range engine appended this
// block's unclaimed mint+fee ranges.
func (t *Tracker) ProcessCoinbase(
	height entry.Height,
	timestamp uint32,
	txid chainhash.Hash,
	carried []Flotsam,
	outputs []TxOutput,
	coinbaseRanges []entry.SatRange,
	lostSatsBase uint64,
) error {
	flotsam := append([]Flotsam(nil), carried...)
	sort.SliceStable(flotsam, func(i, j int) bool { return flotsam[i].Offset < flotsam[j].Offset })

	var outputStart uint64
	fi := 0
	for oi, out := range outputs {
		outputEnd := outputStart + out.Value
		for fi < len(flotsam) && flotsam[fi].Offset < outputEnd {
			f := flotsam[fi]
			newSatpoint := entry.SatPoint{
				OutPoint: entry.OutPoint{Hash: txid, Index: uint32(oi)},
				Offset:   f.Offset - outputStart,
			}
			if err := t.applyFlotsam(f, newSatpoint, height, timestamp, coinbaseRanges); err != nil {
				return err
			}
			fi++
		}
		outputStart = outputEnd
	}

	for _, f := range flotsam[fi:] {
		newSatpoint := entry.SatPoint{
			OutPoint: entry.NullOutPoint,
			Offset:   lostSatsBase + (f.Offset - outputStart),
		}
		if err := t.applyFlotsam(f, newSatpoint, height, timestamp, coinbaseRanges); err != nil {
			return err
		}
	}

	return nil
}

func (t *Tracker) applyFlotsam(f Flotsam, newSatpoint entry.SatPoint, height entry.Height, timestamp uint32, inputRanges []entry.SatRange) error {
	switch f.Origin.Kind {
	case OriginOld:
		if err := t.tx.RemoveInscriptionLocation(f.InscriptionID, f.Origin.OldSatpoint); err != nil {
			return err
		}

	case OriginNew:
		number, err := t.tx.Reader().NextInscriptionNumber()
		if err != nil {
			return err
		}

		var sat entry.Sat
		var hasSat bool
		if t.indexSats && inputRanges != nil {
			if s, ok := satrange.SatAtOffset(inputRanges, f.Offset); ok {
				sat, hasSat = s, true
			}
		}

		entryRow := entry.InscriptionEntry{
			Fee:       f.Origin.Fee,
			Height:    height,
			Number:    number,
			Sat:       sat,
			HasSat:    hasSat,
			Timestamp: timestamp,
		}
		if err := t.tx.PutInscriptionEntry(f.InscriptionID, entryRow); err != nil {
			return err
		}
		if err := t.tx.PutInscriptionNumber(number, f.InscriptionID); err != nil {
			return err
		}
		if hasSat {
			if err := t.tx.PutSatInscription(sat, f.InscriptionID); err != nil {
				return err
			}
			if err := t.tx.PutSatSatpoint(sat, newSatpoint); err != nil {
				return err
			}
		}
	}

	if err := t.tx.PutInscriptionSatpoint(f.InscriptionID, newSatpoint); err != nil {
		return err
	}
	t.landed = append(t.landed, Landing{InscriptionID: f.InscriptionID, Satpoint: newSatpoint})
	return nil
}
