package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/kettlefi/kettle/internal/signing"
	"github.com/kettlefi/kettle/pkg/types"
)

// offerEntry is one offer in an offers file. Type is loan, borrow, ask or
// bid; amounts are JSON numbers. Lien, when present, is the lien holding
// the offer's collateral.
type offerEntry struct {
	Type      string          `json:"type"`
	Offer     json.RawMessage `json:"offer"`
	Signature hexutil.Bytes   `json:"signature,omitempty"`
	Lien      *types.Lien     `json:"lien,omitempty"`
}

func (e offerEntry) decode() (types.Offer, error) {
	if len(e.Offer) == 0 {
		return nil, fmt.Errorf("missing offer")
	}
	var offer types.Offer
	switch e.Type {
	case "loan":
		offer = &types.LoanOffer{}
	case "borrow":
		offer = &types.BorrowOffer{}
	case "ask", "bid":
		offer = &types.MarketOffer{}
	default:
		return nil, fmt.Errorf("unknown offer type %q (use loan, borrow, ask or bid)", e.Type)
	}
	if err := json.Unmarshal(e.Offer, offer); err != nil {
		return nil, err
	}
	if o, ok := offer.(*types.MarketOffer); ok {
		o.Side = types.SideBid
		if e.Type == "ask" {
			o.Side = types.SideAsk
		}
		o.Normalize()
	}
	if err := types.CheckFields(offer); err != nil {
		return nil, err
	}
	return offer, nil
}

// readOfferFile parses a file holding one entry or an array of entries
func readOfferFile(path string) ([]offerEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("%s: empty file", path)
	}

	var entries []offerEntry
	if data[0] == '[' {
		err = json.Unmarshal(data, &entries)
	} else {
		var one offerEntry
		err = json.Unmarshal(data, &one)
		entries = []offerEntry{one}
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return entries, nil
}

// decodedOffer is an entry with its offer parsed and hashed
type decodedOffer struct {
	entry offerEntry
	offer types.Offer
	hash  common.Hash
}

func decodeEntries(entries []offerEntry, hasher *signing.Hasher) ([]decodedOffer, error) {
	out := make([]decodedOffer, 0, len(entries))
	for i, e := range entries {
		offer, err := e.decode()
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		hash, err := hasher.Hash(offer)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		out = append(out, decodedOffer{entry: e, offer: offer, hash: hash})
	}
	return out, nil
}
