package schemas

import (
	"errors"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validationMessage(t *testing.T, err error) (string, string) {
	t.Helper()
	var verr *ValidationError
	require.True(t, errors.As(err, &verr), "expected ValidationError, got %v", err)
	return verr.Field, verr.Message
}

func TestParseFromJSON(t *testing.T) {
	tests := []struct {
		name        string
		jsonData    string
		expectError bool
		wantField   string
		wantMessage string
	}{
		{
			name: "valid form with string numbers",
			jsonData: `{
				"name": "Secret",
				"symbol": "SCT",
				"max_supply": "1000000",
				"per_mint": "100",
				"creator_reserve_pct": "10.5",
				"public_mint_pct": "89.5"
			}`,
		},
		{
			name: "valid form with json numbers",
			jsonData: `{
				"name": "Secret",
				"symbol": "SCT",
				"max_supply": 1000,
				"per_mint": 10,
				"per_wallet_limit": 3,
				"creator_reserve_pct": 0,
				"public_mint_pct": 100,
				"total_visible": false,
				"renounce_on_creation": false
			}`,
		},
		{
			name:        "missing key fails schema",
			jsonData:    `{"symbol": "SCT", "max_supply": "1", "per_mint": "1", "creator_reserve_pct": "1", "public_mint_pct": "1"}`,
			expectError: true,
		},
		{
			name:        "unknown property fails schema",
			jsonData:    `{"name": "a", "symbol": "b", "max_supply": "1", "per_mint": "1", "creator_reserve_pct": "1", "public_mint_pct": "1", "owner": "x"}`,
			expectError: true,
		},
		{
			name:        "empty name",
			jsonData:    `{"name": " ", "symbol": "SCT", "max_supply": "1", "per_mint": "1", "creator_reserve_pct": "1", "public_mint_pct": "1"}`,
			expectError: true,
			wantField:   FieldName,
			wantMessage: MsgRequiredFields,
		},
		{
			name:        "percent sum over 100",
			jsonData:    `{"name": "a", "symbol": "b", "max_supply": "1", "per_mint": "1", "creator_reserve_pct": "60", "public_mint_pct": "40.01"}`,
			expectError: true,
			wantField:   FieldPublicMintPct,
			wantMessage: MsgPercentSum,
		},
		{
			name:        "percent over 100",
			jsonData:    `{"name": "a", "symbol": "b", "max_supply": "1", "per_mint": "1", "creator_reserve_pct": "101", "public_mint_pct": "0"}`,
			expectError: true,
			wantField:   FieldCreatorReservePct,
			wantMessage: MsgPercentRange,
		},
		{
			name:        "three decimals",
			jsonData:    `{"name": "a", "symbol": "b", "max_supply": "1", "per_mint": "1", "creator_reserve_pct": 1.125, "public_mint_pct": "0"}`,
			expectError: true,
			wantField:   FieldCreatorReservePct,
			wantMessage: MsgPercentRange,
		},
		{
			name:        "zero max supply",
			jsonData:    `{"name": "a", "symbol": "b", "max_supply": "0", "per_mint": "1", "creator_reserve_pct": "1", "public_mint_pct": "1"}`,
			expectError: true,
			wantField:   FieldMaxSupply,
			wantMessage: "max_supply must be at least 1",
		},
		{
			name:        "max supply overflows uint64",
			jsonData:    `{"name": "a", "symbol": "b", "max_supply": "18446744073709551616", "per_mint": "1", "creator_reserve_pct": "1", "public_mint_pct": "1"}`,
			expectError: true,
			wantField:   FieldMaxSupply,
			wantMessage: "max_supply is too large",
		},
		{
			name:        "invalid json",
			jsonData:    `{"name": }`,
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			form, err := ParseFromJSON([]byte(tt.jsonData))
			if !tt.expectError {
				require.NoError(t, err)
				require.NotNil(t, form)
				return
			}
			require.Error(t, err)
			assert.Nil(t, form)
			if tt.wantMessage != "" {
				field, msg := validationMessage(t, err)
				assert.Equal(t, tt.wantField, field)
				assert.Equal(t, tt.wantMessage, msg)
			}
		})
	}
}

func TestToCreateArgs(t *testing.T) {
	form := CreateTokenForm{
		Name:              " Secret ",
		Symbol:            "SCT",
		Description:       "hidden",
		IconCID:           "bafy",
		MaxSupply:         "1000000",
		PerMint:           "100",
		CreatorReservePct: "10.55",
		PublicMintPct:     "0.01",
	}

	args, err := form.ToCreateArgs()
	require.NoError(t, err)

	assert.Equal(t, "Secret", args.Name)
	assert.Equal(t, uint64(1_000_000), args.MaxSupply)
	assert.Equal(t, uint64(100), args.PerMintAmount)
	assert.Equal(t, uint16(1055), args.CreatorReserveBps)
	assert.Equal(t, uint16(1), args.PublicMintBps)
	assert.Equal(t, uint32(0), args.PerWalletMintLimit, "empty per-wallet limit means unlimited")
	assert.True(t, args.IsTotalSupplyPublic, "defaults to public total supply")
	assert.True(t, args.RenounceOnCreation, "defaults to renounce")
}

func TestToCreateArgs_BoundaryPercentages(t *testing.T) {
	form := CreateTokenForm{
		Name: "a", Symbol: "b", MaxSupply: "1", PerMint: "1",
		CreatorReservePct: "33.33", PublicMintPct: "66.67",
	}
	args, err := form.ToCreateArgs()
	require.NoError(t, err)
	assert.Equal(t, uint16(3333), args.CreatorReserveBps)
	assert.Equal(t, uint16(6667), args.PublicMintBps)

	form.PublicMintPct = "100."
	_, err = form.ToCreateArgs()
	_, msg := validationMessage(t, err)
	assert.Equal(t, MsgPercentSum, msg)
}

func TestParseFromQueryParams(t *testing.T) {
	form, err := ParseFromQueryParams("name=Secret&symbol=SCT&max_supply=500&per_mint=5&per_wallet_limit=2&creator_reserve_pct=5&public_mint_pct=95&total_visible=false&renounce_on_creation=on")
	require.NoError(t, err)

	assert.Equal(t, "Secret", form.Name)
	assert.False(t, form.IsTotalSupplyPublic())
	assert.True(t, form.Renounce())

	args, err := form.ToCreateArgs()
	require.NoError(t, err)
	assert.Equal(t, uint32(2), args.PerWalletMintLimit)
	assert.Equal(t, uint16(500), args.CreatorReserveBps)
}

func TestParseFromValues_InvalidBool(t *testing.T) {
	values := url.Values{}
	values.Set(FieldTotalVisible, "maybe")
	_, err := ParseFromValues(values)
	field, _ := validationMessage(t, err)
	assert.Equal(t, FieldTotalVisible, field)
}

func TestParseFromValues_PerWalletOverflow(t *testing.T) {
	values := url.Values{
		FieldName: {"a"}, FieldSymbol: {"b"}, FieldMaxSupply: {"1"}, FieldPerMint: {"1"},
		FieldCreatorReservePct: {"1"}, FieldPublicMintPct: {"1"},
		FieldPerWalletLimit: {"4294967296"},
	}
	_, err := ParseFromValues(values)
	field, _ := validationMessage(t, err)
	assert.Equal(t, FieldPerWalletLimit, field)
}

func TestTransferRequest(t *testing.T) {
	recipient := "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed"
	tests := []struct {
		name        string
		req         TransferRequest
		wantAmount  uint64
		wantMessage string
	}{
		{"valid", TransferRequest{To: recipient, Amount: "25"}, 25, ""},
		{"hex amount", TransferRequest{To: recipient, Amount: "0x10"}, 16, ""},
		{"bad recipient", TransferRequest{To: "0x1234", Amount: "1"}, 0, MsgInvalidRecipient},
		{"missing prefix", TransferRequest{To: recipient[2:] + "00", Amount: "1"}, 0, MsgInvalidRecipient},
		{"non numeric", TransferRequest{To: recipient, Amount: "ten"}, 0, MsgInvalidAmount},
		{"upper hex amount", TransferRequest{To: recipient, Amount: "0X1F"}, 31, ""},
		{"empty amount", TransferRequest{To: recipient, Amount: ""}, 0, MsgAmountPositive},
		{"underscore separators", TransferRequest{To: recipient, Amount: "1_000"}, 0, MsgInvalidAmount},
		{"signed hex", TransferRequest{To: recipient, Amount: "0x-1"}, 0, MsgInvalidAmount},
		{"bare hex prefix", TransferRequest{To: recipient, Amount: "0x"}, 0, MsgInvalidAmount},
		{"octal prefix is decimal", TransferRequest{To: recipient, Amount: "010"}, 10, ""},
		{"zero", TransferRequest{To: recipient, Amount: "0"}, 0, MsgAmountPositive},
		{"negative", TransferRequest{To: recipient, Amount: "-3"}, 0, MsgAmountPositive},
		{"overflow", TransferRequest{To: recipient, Amount: "18446744073709551616"}, 0, "Amount exceeds 64-bit range"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantMessage != "" {
				_, msg := validationMessage(t, err)
				assert.Equal(t, tt.wantMessage, msg)
				return
			}
			require.NoError(t, err)
			v, err := tt.req.Value()
			require.NoError(t, err)
			assert.Equal(t, tt.wantAmount, v)
		})
	}
}

func TestParseTransferJSON(t *testing.T) {
	req, err := ParseTransferJSON([]byte(`{"to":"0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed","amount":42}`))
	require.NoError(t, err)
	v, err := req.Value()
	require.NoError(t, err)
	assert.Equal(t, uint64(42), v)

	_, err = ParseTransferJSON([]byte(`{"to":"nope","amount":"1"}`))
	assert.Error(t, err)
}

func TestFormatting(t *testing.T) {
	assert.Equal(t, "10.50", BpsToPercent(1050))
	assert.Equal(t, "0.00", BpsToPercent(0))
	assert.Equal(t, "Unlimited", FormatPerWallet(0))
	assert.Equal(t, "5", FormatPerWallet(5))
	assert.Equal(t, uint16(10000), PercentToBps(100))
}

func TestValidateCreateTokenStruct(t *testing.T) {
	form := &CreateTokenForm{
		Name: "a", Symbol: "b", MaxSupply: "1", PerMint: "1",
		CreatorReservePct: "1", PublicMintPct: "1",
	}
	assert.NoError(t, ValidateCreateTokenStruct(form))

	form.Symbol = "WAY-TOO-LONG-SYMBOL"
	assert.Error(t, ValidateCreateTokenStruct(form))
}
