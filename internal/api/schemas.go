package api

import "github.com/example/aquapay/internal/security"

// Schema names double as map keys in the compiled validator set.
const (
	schemaRegister        = "register"
	schemaSetPrice        = "set_price"
	schemaCreateBill      = "create_bill"
	schemaCreateBillBatch = "create_bill_batch"
	schemaPay             = "pay"
	schemaPayExternal     = "pay_external"
	schemaRequestLoan     = "request_loan"
	schemaRepayLoan       = "repay_loan"
	schemaDeposit         = "deposit"
	schemaApprove         = "approve"
	schemaTopup           = "topup"
)

// Amounts are accepted as JSON strings or numbers; decimal parsing happens
// in the handler, the schema only vets shape.
const amountSchema = `{"type": ["string", "number"], "pattern": "^-?[0-9]+(\\.[0-9]+)?$"}`

var schemaSources = map[string]string{
	schemaRegister: `{
	  "type": "object",
	  "additionalProperties": false,
	  "required": ["name", "meter_id"],
	  "properties": {
	    "name": {"type": "string", "minLength": 1, "maxLength": 255},
	    "meter_id": {"type": "integer", "minimum": 1}
	  }
	}`,

	schemaSetPrice: `{
	  "type": "object",
	  "additionalProperties": false,
	  "required": ["price_per_unit"],
	  "properties": {
	    "price_per_unit": ` + amountSchema + `
	  }
	}`,

	schemaCreateBill: `{
	  "type": "object",
	  "additionalProperties": false,
	  "required": ["account", "consumption", "due_at"],
	  "properties": {
	    "account": {"type": "string", "minLength": 1},
	    "consumption": {"type": "integer", "minimum": 1},
	    "due_at": {"type": "string", "format": "date-time"},
	    "ref": {"type": "string"},
	    "metadata": {"type": "string"}
	  }
	}`,

	schemaCreateBillBatch: `{
	  "type": "object",
	  "additionalProperties": false,
	  "required": ["accounts", "consumptions", "due_at"],
	  "properties": {
	    "accounts": {"type": "array", "minItems": 1, "items": {"type": "string", "minLength": 1}},
	    "consumptions": {"type": "array", "minItems": 1, "items": {"type": "integer", "minimum": 1}},
	    "due_at": {"type": "string", "format": "date-time"},
	    "refs": {"type": "array", "items": {"type": "string"}},
	    "metadata": {"type": "array", "items": {"type": "string"}}
	  }
	}`,

	schemaPay: `{
	  "type": "object",
	  "additionalProperties": false,
	  "required": ["amount"],
	  "properties": {
	    "bill_id": {"type": "integer", "minimum": 0},
	    "amount": ` + amountSchema + `,
	    "ref": {"type": "string"}
	  }
	}`,

	schemaPayExternal: `{
	  "type": "object",
	  "additionalProperties": false,
	  "required": ["payer", "amount"],
	  "properties": {
	    "payer": {"type": "string", "minLength": 1},
	    "bill_id": {"type": "integer", "minimum": 0},
	    "amount": ` + amountSchema + `,
	    "ref": {"type": "string"}
	  }
	}`,

	schemaRequestLoan: `{
	  "type": "object",
	  "additionalProperties": false,
	  "required": ["amount", "term_days"],
	  "properties": {
	    "amount": ` + amountSchema + `,
	    "term_days": {"type": "integer", "minimum": 1},
	    "purpose": {"type": "string", "maxLength": 500}
	  }
	}`,

	schemaRepayLoan: `{
	  "type": "object",
	  "additionalProperties": false,
	  "required": ["amount"],
	  "properties": {
	    "amount": ` + amountSchema + `
	  }
	}`,

	schemaDeposit: `{
	  "type": "object",
	  "additionalProperties": false,
	  "required": ["amount"],
	  "properties": {
	    "amount": ` + amountSchema + `
	  }
	}`,

	schemaApprove: `{
	  "type": "object",
	  "additionalProperties": false,
	  "required": ["spender", "amount"],
	  "properties": {
	    "spender": {"type": "string", "minLength": 1},
	    "amount": ` + amountSchema + `
	  }
	}`,

	schemaTopup: `{
	  "type": "object",
	  "additionalProperties": false,
	  "required": ["identity", "amount"],
	  "properties": {
	    "identity": {"type": "string", "minLength": 1},
	    "amount": ` + amountSchema + `
	  }
	}`,
}

func compileSchemas() (map[string]*security.JSONSchemaValidator, error) {
	out := make(map[string]*security.JSONSchemaValidator, len(schemaSources))
	for name, src := range schemaSources {
		v, err := security.NewJSONSchemaValidator(src)
		if err != nil {
			return nil, err
		}
		out[name] = v
	}
	return out, nil
}
