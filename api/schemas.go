package api

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// maxBodyBytes caps every request body.
const maxBodyBytes = 1 << 20

const decimalDef = `{"type": ["number", "string"], "pattern": "^-?[0-9]+(\\.[0-9]+)?$"}`

var (
	createAccountSchema = mustSchema(`{
		"type": "object",
		"required": ["kind", "name"],
		"properties": {
			"id":               {"type": "string", "maxLength": 64},
			"kind":             {"enum": ["VENDOR", "SHOP"]},
			"name":             {"type": "string", "minLength": 1, "maxLength": 200},
			"metalRestriction": {"enum": ["", "ANY", "GOLD", "SILVER"]},
			"defaultCalcMode":  {"enum": ["", "MULTIPLICATIVE", "ADDITIVE"]}
		}
	}`)

	obligationSchema = mustSchema(`{
		"type": "object",
		"required": ["accountId", "direction"],
		"properties": {
			"accountId":      {"type": "string", "minLength": 1},
			"direction":      {"enum": ["BORROW", "LEND"]},
			"description":    {"type": "string", "maxLength": 500},
			"grossWeight":    ` + decimalDef + `,
			"wastagePercent": ` + decimalDef + `,
			"calcMode":       {"enum": ["", "MULTIPLICATIVE", "ADDITIVE"]},
			"makingCharge":   ` + decimalDef + `,
			"manualCash":     ` + decimalDef + `,
			"metalType":      {"enum": ["", "GOLD", "SILVER"]}
		}
	}`)

	editObligationSchema = mustSchema(`{
		"type": "object",
		"properties": {
			"version":                {"type": "integer", "minimum": 0},
			"description":            {"type": "string", "maxLength": 500},
			"grossWeight":            ` + decimalDef + `,
			"wastagePercent":         ` + decimalDef + `,
			"calcMode":               {"enum": ["", "MULTIPLICATIVE", "ADDITIVE"]},
			"makingCharge":           ` + decimalDef + `,
			"manualCash":             ` + decimalDef + `,
			"metalType":              {"enum": ["", "GOLD", "SILVER"]},
			"acknowledgeSettlements": {"type": "boolean"},
			"note":                   {"type": "string", "maxLength": 500}
		}
	}`)

	settlementSchema = mustSchema(`{
		"type": "object",
		"required": ["mode"],
		"anyOf": [{"required": ["obligationId"]}, {"required": ["accountId"]}],
		"properties": {
			"obligationId": {"type": "string"},
			"accountId":    {"type": "string"},
			"direction":    {"enum": ["", "BORROW", "LEND"]},
			"mode":         {"enum": ["METAL", "CASH", "BOTH"]},
			"goldVal":      ` + decimalDef + `,
			"silverVal":    ` + decimalDef + `,
			"cashVal":      ` + decimalDef + `,
			"metalRate":    {"anyOf": [{"type": "null"}, ` + decimalDef + `]},
			"metalType":    {"enum": ["", "GOLD", "SILVER"]},
			"note":         {"type": "string", "maxLength": 500}
		}
	}`)

	reversalSchema = mustSchema(`{
		"type": "object",
		"properties": {
			"version": {"type": "integer", "minimum": 0},
			"note":    {"type": "string", "maxLength": 500}
		}
	}`)

	transferSchema = mustSchema(`{
		"type": "object",
		"required": ["from", "to"],
		"properties": {
			"from": {"type": "object", "required": ["mode"]},
			"to":   {"type": "object", "required": ["accountId", "direction"]}
		}
	}`)

	loadScenarioSchema = mustSchema(`{
		"type": "object",
		"required": ["scenario_id"],
		"properties": {"scenario_id": {"type": "string", "minLength": 1}}
	}`)
)

func mustSchema(src string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
	if err != nil {
		panic(fmt.Sprintf("compile request schema: %v", err))
	}
	return schema
}

// readBody reads the request body and validates it against schema. An
// empty body is treated as {}.
func readBody(r *http.Request, schema *gojsonschema.Schema) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return nil, badRequest("body", "unreadable: "+err.Error())
	}
	if len(body) > maxBodyBytes {
		return nil, badRequest("body", "too large")
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		body = []byte("{}")
	}

	res, err := schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return nil, badRequest("body", "invalid JSON: "+err.Error())
	}
	if !res.Valid() {
		first := res.Errors()[0]
		field := first.Field()
		if field == "(root)" {
			if missing, ok := first.Details()["property"].(string); ok {
				field = missing
			} else {
				field = "body"
			}
		}
		return nil, badRequest(field, first.Description())
	}
	return body, nil
}
