package schemas

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed create-token-schema.json
var schemaBytes []byte

var schemaValidator *gojsonschema.Schema

func init() {
	loader := gojsonschema.NewBytesLoader(schemaBytes)
	var err error
	schemaValidator, err = gojsonschema.NewSchema(loader)
	if err != nil {
		panic(fmt.Sprintf("failed to load schema: %v", err))
	}
}

// ValidateCreateToken validates raw create-token JSON against the schema
func ValidateCreateToken(data []byte) error {
	documentLoader := gojsonschema.NewBytesLoader(data)
	result, err := schemaValidator.Validate(documentLoader)
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}

	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		field := ""
		for _, desc := range result.Errors() {
			if field == "" {
				field = desc.Field()
			}
			msgs = append(msgs, desc.String())
		}
		return &ValidationError{
			Field:   field,
			Message: "schema validation failed: " + strings.Join(msgs, "; "),
		}
	}

	return nil
}

// ValidateCreateTokenStruct validates a CreateTokenForm struct against the schema
func ValidateCreateTokenStruct(form *CreateTokenForm) error {
	data, err := form.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to serialize form: %w", err)
	}

	return ValidateCreateToken(data)
}
