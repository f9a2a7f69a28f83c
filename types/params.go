package types

import (
	"strings"

	"github.com/spf13/cast"
)

// FlowTrackingParams carries the chain-matching parameters of one flow,
// derived from its free-form metadata. Empty string means "not provided";
// stages whose prerequisites are empty are skipped by the engine.
type FlowTrackingParams struct {
	// EVM side.
	EvmBurnTxHash   string `json:"evmBurnTxHash,omitempty"`
	UsdcAddress     string `json:"usdcAddress,omitempty"`
	Recipient       string `json:"recipient,omitempty"`
	AmountBaseUnits string `json:"amountBaseUnits,omitempty"`

	// Noble side.
	ForwardingAddress    string `json:"forwardingAddress,omitempty"`
	ExpectedAmountUusdc  string `json:"expectedAmountUusdc,omitempty"`
	MemoJSON             string `json:"memoJson,omitempty"`
	DestinationCallerB64 string `json:"destinationCallerB64,omitempty"`
	MintRecipientB64     string `json:"mintRecipientB64,omitempty"`
	DestinationDomain    string `json:"destinationDomain,omitempty"`
	ChannelID            string `json:"channelId,omitempty"`

	// Namada side.
	NamadaReceiver  string `json:"namadaReceiver,omitempty"`
	NamadaIbcTxHash string `json:"namadaIbcTxHash,omitempty"`
}

// DeriveTrackingParams resolves matching parameters from flow metadata by
// name lookup with fallbacks. A metadata value participates only when it
// coerces to a non-empty string.
func DeriveTrackingParams(flow *Flow) FlowTrackingParams {
	lookup := func(keys ...string) string {
		for _, key := range keys {
			v, ok := flow.Metadata[key]
			if !ok {
				continue
			}
			if s := strings.TrimSpace(cast.ToString(v)); s != "" {
				return s
			}
		}
		return ""
	}

	p := FlowTrackingParams{
		EvmBurnTxHash:        lookup("evmBurnTxHash", "burnTxHash"),
		UsdcAddress:          lookup("usdcAddress"),
		Recipient:            lookup("recipient", "destinationEvmAddress"),
		AmountBaseUnits:      lookup("amountBaseUnits", "amount"),
		ForwardingAddress:    lookup("forwardingAddress", "nobleForwardingAddress"),
		ExpectedAmountUusdc:  lookup("expectedAmountUusdc"),
		MemoJSON:             lookup("memoJson"),
		DestinationCallerB64: lookup("destinationCallerB64"),
		MintRecipientB64:     lookup("mintRecipientB64"),
		ChannelID:            lookup("channelId"),
		NamadaReceiver:       lookup("namadaReceiver", "destinationAddress"),
		NamadaIbcTxHash:      lookup("namadaIbcTxHash"),
	}

	if p.EvmBurnTxHash == "" {
		p.EvmBurnTxHash = strings.TrimSpace(flow.TxHash)
	}

	// The uusdc amount falls back to the base-unit amount; the denom suffix
	// is appended when missing since Cosmos amounts concatenate value+denom.
	if p.ExpectedAmountUusdc == "" && p.AmountBaseUnits != "" {
		p.ExpectedAmountUusdc = p.AmountBaseUnits
		if !strings.HasSuffix(p.ExpectedAmountUusdc, "uusdc") {
			p.ExpectedAmountUusdc += "uusdc"
		}
	}

	if v, ok := flow.Metadata["destinationDomain"]; ok {
		if n, err := cast.ToUint32E(v); err == nil {
			p.DestinationDomain = cast.ToString(n)
		}
	}

	return p
}
