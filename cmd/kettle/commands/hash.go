package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/kettlefi/kettle/internal/signing"
)

type hashResult struct {
	Type      string      `json:"type"`
	Maker     string      `json:"maker"`
	Hash      common.Hash `json:"hash"`
	Signature *bool       `json:"signatureValid,omitempty"`
}

// NewHashCmd creates the offer hash command
func NewHashCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash <offers.json>",
		Short: "Compute offer hashes",
		Long: `Compute the EIP-712 struct hash of each offer in the file. When an entry
carries a signature it is checked against the offer's maker.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHash(cmd.OutOrStdout(), args[0])
		},
	}
}

// NewPayloadCmd creates the typed data command
func NewPayloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "payload <offer.json>",
		Short: "Print the typed data to sign for an offer",
		Long:  "Print the eth_signTypedData_v4 document of a single offer for an external wallet.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPayload(cmd.OutOrStdout(), args[0])
		},
	}
}

func offlineHasher() (*signing.Hasher, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	chainID, kettle, err := deployment(cfg)
	if err != nil {
		return nil, err
	}
	return signing.NewHasher(chainID, kettle), nil
}

func runHash(w io.Writer, path string) error {
	hasher, err := offlineHasher()
	if err != nil {
		return err
	}
	entries, err := readOfferFile(path)
	if err != nil {
		return err
	}
	decoded, err := decodeEntries(entries, hasher)
	if err != nil {
		return err
	}

	results := make([]hashResult, len(decoded))
	for i, d := range decoded {
		maker := d.offer.Header().Maker
		results[i] = hashResult{Type: d.entry.Type, Maker: maker.Hex(), Hash: d.hash}
		if len(d.entry.Signature) > 0 {
			ok := hasher.RecoverAndCompare(d.offer, d.entry.Signature, maker)
			results[i].Signature = &ok
		}
	}

	return emit(w, results, func(w io.Writer) {
		for _, r := range results {
			line := fmt.Sprintf("%s  %-6s %s", r.Hash.Hex(), r.Type, r.Maker)
			if r.Signature != nil {
				line += "  signature " + StatusBadge(*r.Signature)
			}
			fmt.Fprintln(w, line)
		}
	})
}

func runPayload(w io.Writer, path string) error {
	hasher, err := offlineHasher()
	if err != nil {
		return err
	}
	entries, err := readOfferFile(path)
	if err != nil {
		return err
	}
	if len(entries) != 1 {
		return fmt.Errorf("%s: expected a single offer, got %d", path, len(entries))
	}
	offer, err := entries[0].decode()
	if err != nil {
		return err
	}
	payload, err := hasher.Payload(offer)
	if err != nil {
		return err
	}

	var out bytes.Buffer
	if err := json.Indent(&out, payload, "", "  "); err != nil {
		return err
	}
	out.WriteByte('\n')
	_, err = w.Write(out.Bytes())
	return err
}
