package schemas

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// ParseFromJSON parses and validates a CreateTokenForm from JSON bytes.
// The raw document is checked against the JSON schema first.
func ParseFromJSON(data []byte) (*CreateTokenForm, error) {
	if err := ValidateCreateToken(data); err != nil {
		return nil, err
	}

	var form CreateTokenForm
	if err := json.Unmarshal(data, &form); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}

	if err := form.Validate(); err != nil {
		return nil, err
	}

	return &form, nil
}

// ParseFromValues parses a CreateTokenForm from form or query values.
func ParseFromValues(values url.Values) (*CreateTokenForm, error) {
	form := &CreateTokenForm{
		Name:              values.Get(FieldName),
		Symbol:            values.Get(FieldSymbol),
		Description:       values.Get(FieldDescription),
		IconCID:           values.Get(FieldIconCID),
		MaxSupply:         FormValue(values.Get(FieldMaxSupply)),
		PerMint:           FormValue(values.Get(FieldPerMint)),
		PerWalletLimit:    FormValue(values.Get(FieldPerWalletLimit)),
		CreatorReservePct: FormValue(values.Get(FieldCreatorReservePct)),
		PublicMintPct:     FormValue(values.Get(FieldPublicMintPct)),
	}

	var err error
	if form.TotalVisible, err = parseOptionalBool(FieldTotalVisible, values.Get(FieldTotalVisible)); err != nil {
		return nil, err
	}
	if form.RenounceOnCreation, err = parseOptionalBool(FieldRenounce, values.Get(FieldRenounce)); err != nil {
		return nil, err
	}

	if err := form.Validate(); err != nil {
		return nil, err
	}

	return form, nil
}

// ParseFromQueryParams parses a CreateTokenForm from a raw query string.
func ParseFromQueryParams(query string) (*CreateTokenForm, error) {
	values, err := url.ParseQuery(query)
	if err != nil {
		return nil, fmt.Errorf("failed to parse query string: %w", err)
	}
	return ParseFromValues(values)
}

// ParseTransferJSON parses and validates a TransferRequest.
func ParseTransferJSON(data []byte) (*TransferRequest, error) {
	var req TransferRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return &req, nil
}

func parseOptionalBool(field, s string) (*bool, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if s == "on" {
		v := true
		return &v, nil
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return nil, &ValidationError{Field: field, Message: field + " must be true or false"}
	}
	return &v, nil
}
