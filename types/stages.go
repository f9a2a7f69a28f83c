package types

// Stage names recorded in StatusLog rows and chain progress, in flow order.
const (
	// Deposit: EVM burn -> Noble CCTP mint -> Noble IBC forward -> Namada receive.
	StageEVMBurnConfirmed  = "evm_burn_confirmed"
	StageNobleCCTPMinted   = "noble_cctp_minted"
	StageNobleIBCForwarded = "noble_ibc_forwarded"
	StageNamadaReceived    = "namada_received"

	// Payment: Namada IBC send -> Noble receive -> Noble CCTP burn -> EVM mint.
	StageNamadaIBCSent    = "namada_ibc_sent"
	StageNobleIBCReceived = "noble_ibc_received"
	StageNobleCCTPBurned  = "noble_cctp_burned"
	StageEVMUSDCMinted    = "evm_usdc_minted"
)

// Stage keys identify the engine's sequencing steps; timeout log rows are
// named "<key>_timeout".
const (
	StageKeyEVMBurn       = "evm_burn"
	StageKeyNobleDeposit  = "noble_deposit"
	StageKeyNamadaReceive = "namada_receive"

	StageKeyNamadaIBC    = "namada_ibc"
	StageKeyNoblePayment = "noble_payment"
	StageKeyEVMMint      = "evm_mint"
)
