package types

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeriveTrackingParams(t *testing.T) {
	testCases := []struct {
		name     string
		flow     *Flow
		expected FlowTrackingParams
	}{
		{
			name: "primary keys win over fallbacks",
			flow: &Flow{
				TxHash: "0xflow",
				Metadata: map[string]any{
					"evmBurnTxHash":     "0xprimary",
					"burnTxHash":        "0xfallback",
					"forwardingAddress": "noble1primary",
					"namadaReceiver":    "tnam1primary",
					"recipient":         "0xrecipient",
					"amountBaseUnits":   "100000",
				},
			},
			expected: FlowTrackingParams{
				EvmBurnTxHash:       "0xprimary",
				ForwardingAddress:   "noble1primary",
				NamadaReceiver:      "tnam1primary",
				Recipient:           "0xrecipient",
				AmountBaseUnits:     "100000",
				ExpectedAmountUusdc: "100000uusdc",
			},
		},
		{
			name: "fallback chain for burn tx hash ends at flow tx hash",
			flow: &Flow{
				TxHash:   "0xd8294b1c510caa839db96ca7a9992c3e53ed082b1e9467a8311a0747435d3759",
				Metadata: map[string]any{},
			},
			expected: FlowTrackingParams{
				EvmBurnTxHash: "0xd8294b1c510caa839db96ca7a9992c3e53ed082b1e9467a8311a0747435d3759",
			},
		},
		{
			name: "secondary metadata keys",
			flow: &Flow{
				Metadata: map[string]any{
					"burnTxHash":             "0xburn",
					"nobleForwardingAddress": "noble1fwd",
					"destinationAddress":     "tnam1dest",
					"destinationEvmAddress":  "0xdest",
					"amount":                 "42",
				},
			},
			expected: FlowTrackingParams{
				EvmBurnTxHash:       "0xburn",
				ForwardingAddress:   "noble1fwd",
				NamadaReceiver:      "tnam1dest",
				Recipient:           "0xdest",
				AmountBaseUnits:     "42",
				ExpectedAmountUusdc: "42uusdc",
			},
		},
		{
			name: "explicit expected amount keeps its denom",
			flow: &Flow{
				Metadata: map[string]any{
					"expectedAmountUusdc": "100000uusdc",
					"amountBaseUnits":     "999",
				},
			},
			expected: FlowTrackingParams{
				AmountBaseUnits:     "999",
				ExpectedAmountUusdc: "100000uusdc",
			},
		},
		{
			name: "uusdc suffix not duplicated",
			flow: &Flow{
				Metadata: map[string]any{
					"amountBaseUnits": "7uusdc",
				},
			},
			expected: FlowTrackingParams{
				AmountBaseUnits:     "7uusdc",
				ExpectedAmountUusdc: "7uusdc",
			},
		},
		{
			name: "empty and whitespace values are skipped",
			flow: &Flow{
				Metadata: map[string]any{
					"forwardingAddress":      "   ",
					"nobleForwardingAddress": "noble1real",
					"usdcAddress":            "",
				},
			},
			expected: FlowTrackingParams{
				ForwardingAddress: "noble1real",
			},
		},
		{
			name: "destination domain coerced from json number",
			flow: &Flow{
				Metadata: map[string]any{
					"destinationDomain":    float64(0),
					"destinationCallerB64": "AAAA",
					"mintRecipientB64":     "BBBB",
					"memoJson":             `{"namada":"tnam1x"}`,
					"channelId":            "channel-136",
				},
			},
			expected: FlowTrackingParams{
				DestinationDomain:    "0",
				DestinationCallerB64: "AAAA",
				MintRecipientB64:     "BBBB",
				MemoJSON:             `{"namada":"tnam1x"}`,
				ChannelID:            "channel-136",
			},
		},
		{
			name: "destination domain as string",
			flow: &Flow{
				Metadata: map[string]any{
					"destinationDomain": "4",
				},
			},
			expected: FlowTrackingParams{
				DestinationDomain: "4",
			},
		},
		{
			name: "non-numeric destination domain is dropped",
			flow: &Flow{
				Metadata: map[string]any{
					"destinationDomain": "ethereum",
				},
			},
			expected: FlowTrackingParams{},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.expected, DeriveTrackingParams(tc.flow))
		})
	}
}
