package poller

import (
	"encoding/base64"
	"strings"

	"github.com/tidwall/gjson"

	sdkmath "cosmossdk.io/math"

	abci "github.com/cometbft/cometbft/abci/types"
)

// eventAttr returns the value of the first attribute named key.
func eventAttr(ev abci.Event, key string) (string, bool) {
	for _, attr := range ev.Attributes {
		if attr.Key == key {
			return attr.Value, true
		}
	}
	return "", false
}

// stripQuotes removes one layer of surrounding double quotes. CCTP module
// events render attribute values JSON-encoded.
func stripQuotes(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}

// isSuccessAck reports whether a packet_ack value is the IBC success
// acknowledgement {"result":"AQ=="}.
func isSuccessAck(raw string) bool {
	doc, ok := decodeJSONDocument(raw)
	if !ok {
		return false
	}
	return gjson.Get(doc, "result").Str == successAckResult
}

// packetData is the ICS-20 fungible token packet payload, reduced to the
// fields the pollers match on.
type packetData struct {
	Sender   string
	Receiver string
	Denom    string
	Amount   string
	Memo     string
}

// decodePacketData decodes a packet_data attribute. Chains render it three
// ways: raw JSON, a {value: "<json>"} wrapper, or base64-encoded JSON. The
// decoders run in that order and the first that parses wins.
func decodePacketData(raw string) (packetData, bool) {
	doc, ok := decodeJSONDocument(raw)
	if !ok {
		return packetData{}, false
	}
	return packetData{
		Sender:   gjson.Get(doc, "sender").String(),
		Receiver: gjson.Get(doc, "receiver").String(),
		Denom:    gjson.Get(doc, "denom").String(),
		Amount:   gjson.Get(doc, "amount").String(),
		Memo:     gjson.Get(doc, "memo").String(),
	}, true
}

// decodeJSONDocument resolves the three wire renderings of a JSON attribute
// to the JSON object itself.
func decodeJSONDocument(raw string) (string, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", false
	}

	if isJSONObject(trimmed) {
		// A {value: "<json>"} wrapper is itself a JSON object; unwrap it
		// before accepting the document as-is.
		if inner := gjson.Get(trimmed, "value"); inner.Type == gjson.String && isJSONObject(inner.Str) {
			return inner.Str, true
		}
		return trimmed, true
	}

	decoded, err := base64.StdEncoding.DecodeString(trimmed)
	if err != nil {
		return "", false
	}
	if doc := strings.TrimSpace(string(decoded)); isJSONObject(doc) {
		return doc, true
	}
	return "", false
}

func isJSONObject(s string) bool {
	return strings.HasPrefix(s, "{") && gjson.Valid(s)
}

// amountsEqual compares two Cosmos-side amounts numerically, tolerating an
// optional uusdc suffix on either operand.
func amountsEqual(a, b string) bool {
	ai, ok := parseAmount(a)
	if !ok {
		return false
	}
	bi, ok := parseAmount(b)
	if !ok {
		return false
	}
	return ai.Equal(bi)
}

func parseAmount(s string) (sdkmath.Int, bool) {
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), DenomUusdc))
	if s == "" {
		return sdkmath.Int{}, false
	}
	return sdkmath.NewIntFromString(s)
}
