package models

// IntentMatch is a scored pairing of two intents. It is derived from the
// current pool on every request and never persisted.
type IntentMatch struct {
	IntentA            Intent `json:"intentA"`
	IntentB            Intent `json:"intentB"`
	CompatibilityScore int    `json:"compatibilityScore"`
	CanFulfill         bool   `json:"canFulfill"`
}

// TransferSpec describes the value transfer that settles a claimed intent
type TransferSpec struct {
	FromAddress string `json:"fromAddress"`
	ToAddress   string `json:"toAddress"`
	Token       string `json:"token"`
	Amount      string `json:"amount"`
}

// SettlementTransfer builds the transfer the claimer owes the creator:
// the claimer pays the intent's ToAmount of ToToken.
func SettlementTransfer(intent Intent, claimer string) TransferSpec {
	return TransferSpec{
		FromAddress: claimer,
		ToAddress:   intent.CreatorAddress,
		Token:       intent.ToToken,
		Amount:      intent.ToAmount,
	}
}
