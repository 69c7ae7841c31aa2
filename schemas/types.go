package schemas

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Field names as they appear in requests and validation errors.
const (
	FieldName              = "name"
	FieldSymbol            = "symbol"
	FieldDescription       = "description"
	FieldIconCID           = "icon_cid"
	FieldMaxSupply         = "max_supply"
	FieldPerMint           = "per_mint"
	FieldPerWalletLimit    = "per_wallet_limit"
	FieldCreatorReservePct = "creator_reserve_pct"
	FieldPublicMintPct     = "public_mint_pct"
	FieldTotalVisible      = "total_visible"
	FieldRenounce          = "renounce_on_creation"
	FieldTo                = "to"
	FieldAmount            = "amount"
)

// User-facing messages shared with the web front end.
const (
	MsgRequiredFields   = "Please fill in required fields"
	MsgPercentSum       = "Sum of both percentages must be ≤100"
	MsgPercentRange     = "Percentages must be 0-100 and sum ≤100"
	MsgInvalidRecipient = "Invalid recipient address"
	MsgInvalidAmount    = "Invalid amount"
	MsgAmountPositive   = "Amount must be greater than 0"
)

// FormValue is a form field as typed by the user. It accepts JSON strings
// and JSON numbers so clients may send either.
type FormValue string

func (v *FormValue) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*v = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = FormValue(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("expected string or number: %w", err)
	}
	*v = FormValue(n.String())
	return nil
}

func (v FormValue) String() string {
	return strings.TrimSpace(string(v))
}

// CreateTokenForm is the token creation form with snake_case JSON tags.
type CreateTokenForm struct {
	Name               string    `json:"name"`
	Symbol             string    `json:"symbol"`
	Description        string    `json:"description,omitempty"`
	IconCID            string    `json:"icon_cid,omitempty"`
	MaxSupply          FormValue `json:"max_supply"`
	PerMint            FormValue `json:"per_mint"`
	PerWalletLimit     FormValue `json:"per_wallet_limit,omitempty"`
	CreatorReservePct  FormValue `json:"creator_reserve_pct"`
	PublicMintPct      FormValue `json:"public_mint_pct"`
	TotalVisible       *bool     `json:"total_visible,omitempty"`
	RenounceOnCreation *bool     `json:"renounce_on_creation,omitempty"`
}

// IsTotalSupplyPublic defaults to true when unset.
func (f CreateTokenForm) IsTotalSupplyPublic() bool {
	return f.TotalVisible == nil || *f.TotalVisible
}

// Renounce defaults to true when unset.
func (f CreateTokenForm) Renounce() bool {
	return f.RenounceOnCreation == nil || *f.RenounceOnCreation
}

// ToJSON serializes the form to JSON bytes
func (f CreateTokenForm) ToJSON() ([]byte, error) {
	return json.Marshal(f)
}

// TransferRequest is a confidential transfer as entered on the dashboard.
type TransferRequest struct {
	To     string    `json:"to"`
	Amount FormValue `json:"amount"`
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return e.Message
}
