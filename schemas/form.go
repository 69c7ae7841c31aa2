package schemas

import (
	"math"
	"math/big"
	"regexp"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/cipherlaunch/launchpad/chain"
	"github.com/cipherlaunch/launchpad/contracts/factory"
)

var (
	digitsRe  = regexp.MustCompile(`^\d+$`)
	percentRe = regexp.MustCompile(`^\d*\.?\d{0,2}$`)
)

// Validate checks required fields, integer formats and the percentage rules.
func (f CreateTokenForm) Validate() error {
	_, err := f.ToCreateArgs()
	return err
}

// ToCreateArgs validates the form and converts it to createToken arguments.
// Percentages become basis points with round(pct*100).
func (f CreateTokenForm) ToCreateArgs() (factory.CreateArgs, error) {
	name := strings.TrimSpace(f.Name)
	symbol := strings.TrimSpace(f.Symbol)

	required := []struct {
		field string
		value string
	}{
		{FieldName, name},
		{FieldSymbol, symbol},
		{FieldMaxSupply, f.MaxSupply.String()},
		{FieldPerMint, f.PerMint.String()},
		{FieldCreatorReservePct, f.CreatorReservePct.String()},
		{FieldPublicMintPct, f.PublicMintPct.String()},
	}
	for _, r := range required {
		if r.value == "" {
			return factory.CreateArgs{}, &ValidationError{Field: r.field, Message: MsgRequiredFields}
		}
	}

	maxSupply, err := positiveUint(FieldMaxSupply, f.MaxSupply.String(), 64)
	if err != nil {
		return factory.CreateArgs{}, err
	}
	perMint, err := positiveUint(FieldPerMint, f.PerMint.String(), 64)
	if err != nil {
		return factory.CreateArgs{}, err
	}

	var perWallet uint64
	if s := f.PerWalletLimit.String(); s != "" {
		if !digitsRe.MatchString(s) {
			return factory.CreateArgs{}, &ValidationError{Field: FieldPerWalletLimit, Message: "per_wallet_limit must be a whole number (0 = unlimited)"}
		}
		perWallet, err = strconv.ParseUint(s, 10, 32)
		if err != nil {
			return factory.CreateArgs{}, &ValidationError{Field: FieldPerWalletLimit, Message: "per_wallet_limit is too large"}
		}
	}

	creatorPct, err := parsePercent(FieldCreatorReservePct, f.CreatorReservePct.String())
	if err != nil {
		return factory.CreateArgs{}, err
	}
	publicPct, err := parsePercent(FieldPublicMintPct, f.PublicMintPct.String())
	if err != nil {
		return factory.CreateArgs{}, err
	}

	creatorBps := PercentToBps(creatorPct)
	publicBps := PercentToBps(publicPct)
	if uint32(creatorBps)+uint32(publicBps) > 10_000 {
		return factory.CreateArgs{}, &ValidationError{Field: FieldPublicMintPct, Message: MsgPercentSum}
	}

	return factory.CreateArgs{
		Name:                name,
		Symbol:              symbol,
		Description:         strings.TrimSpace(f.Description),
		IconCID:             strings.TrimSpace(f.IconCID),
		MaxSupply:           maxSupply,
		CreatorReserveBps:   creatorBps,
		PublicMintBps:       publicBps,
		PerMintAmount:       perMint,
		PerWalletMintLimit:  uint32(perWallet),
		IsTotalSupplyPublic: f.IsTotalSupplyPublic(),
		RenounceOnCreation:  f.Renounce(),
	}, nil
}

func positiveUint(field, s string, bits int) (uint64, error) {
	if !digitsRe.MatchString(s) {
		return 0, &ValidationError{Field: field, Message: field + " must be a whole number"}
	}
	v, err := strconv.ParseUint(s, 10, bits)
	if err != nil {
		return 0, &ValidationError{Field: field, Message: field + " is too large"}
	}
	if v < 1 {
		return 0, &ValidationError{Field: field, Message: field + " must be at least 1"}
	}
	return v, nil
}

func parsePercent(field, s string) (float64, error) {
	if s == "." || !percentRe.MatchString(s) {
		return 0, &ValidationError{Field: field, Message: MsgPercentRange}
	}
	pct, err := strconv.ParseFloat(s, 64)
	if err != nil || pct < 0 || pct > 100 {
		return 0, &ValidationError{Field: field, Message: MsgPercentRange}
	}
	return pct, nil
}

// PercentToBps converts a 0-100 percentage to basis points.
func PercentToBps(pct float64) uint16 {
	return uint16(math.Round(pct * 100))
}

// BpsToPercent formats basis points as a percentage with two decimals.
func BpsToPercent(bps uint16) string {
	return strconv.FormatFloat(float64(bps)/100, 'f', 2, 64)
}

// FormatPerWallet renders a per-wallet mint limit; zero means unlimited.
func FormatPerWallet(limit uint32) string {
	if limit == 0 {
		return "Unlimited"
	}
	return strconv.FormatUint(uint64(limit), 10)
}

// Recipient validates the transfer recipient.
func (r TransferRequest) Recipient() (common.Address, error) {
	to, err := chain.ParseAddress(r.To)
	if err != nil {
		return common.Address{}, &ValidationError{Field: FieldTo, Message: MsgInvalidRecipient}
	}
	return to, nil
}

// Value parses the amount as an integer that fits a 64-bit encrypted value.
// Empty input counts as zero.
func (r TransferRequest) Value() (uint64, error) {
	amount, ok := parseAmount(r.Amount.String())
	if !ok {
		return 0, &ValidationError{Field: FieldAmount, Message: MsgInvalidAmount}
	}
	if amount.Sign() <= 0 {
		return 0, &ValidationError{Field: FieldAmount, Message: MsgAmountPositive}
	}
	if !amount.IsUint64() {
		return 0, &ValidationError{Field: FieldAmount, Message: "Amount exceeds 64-bit range"}
	}
	return amount.Uint64(), nil
}

// parseAmount accepts signed decimal or unsigned 0x-prefixed hex integers.
func parseAmount(s string) (*big.Int, bool) {
	if s == "" {
		return new(big.Int), true
	}
	if len(s) > 2 && (s[:2] == "0x" || s[:2] == "0X") {
		digits := s[2:]
		if digits[0] == '+' || digits[0] == '-' {
			return nil, false
		}
		return new(big.Int).SetString(digits, 16)
	}
	return new(big.Int).SetString(s, 10)
}

// Validate checks recipient then amount.
func (r TransferRequest) Validate() error {
	if _, err := r.Recipient(); err != nil {
		return err
	}
	_, err := r.Value()
	return err
}
