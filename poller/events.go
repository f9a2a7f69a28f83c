package poller

// Tendermint event types and attribute keys the pollers match on.
const (
	EventTypeCoinReceived = "coin_received"
	EventTypeIBCTransfer  = "ibc_transfer"
	EventTypeWriteAck     = "write_acknowledgement"
	EventTypeCCTPBurn     = "circle.cctp.v1.DepositForBurn"
	EventTypeMessage      = "message"

	AttributeKeyReceiver          = "receiver"
	AttributeKeySender            = "sender"
	AttributeKeyAmount            = "amount"
	AttributeKeyDenom             = "denom"
	AttributeKeyPacketAck         = "packet_ack"
	AttributeKeyPacketData        = "packet_data"
	AttributeKeyInnerTxHash       = "inner-tx-hash"
	AttributeKeyDestinationCaller = "destination_caller"
	AttributeKeyMintRecipient     = "mint_recipient"
	AttributeKeyDestinationDomain = "destination_domain"
)

const (
	// DenomUusdc is USDC's micro denom on Noble.
	DenomUusdc = "uusdc"

	// successAckResult is the base64 payload of a successful IBC ack,
	// {"result":"AQ=="}.
	successAckResult = "AQ=="
)
