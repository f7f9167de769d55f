package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// CallbackEnvelope is the body the gateway posts to the webhook endpoint.
type CallbackEnvelope struct {
	Body struct {
		StkCallback STKCallback `json:"stkCallback"`
	} `json:"Body"`
}

// STKCallback holds the fields of the gateway callback the engine reads.
type STKCallback struct {
	MerchantRequestID string            `json:"MerchantRequestID,omitempty"`
	CheckoutRequestID string            `json:"CheckoutRequestID"`
	ResultCode        ResultCode        `json:"ResultCode"`
	ResultDesc        string            `json:"ResultDesc,omitempty"`
	CallbackMetadata  *CallbackMetadata `json:"CallbackMetadata,omitempty"`
}

type CallbackMetadata struct {
	Item []MetadataItem `json:"Item"`
}

type MetadataItem struct {
	Name  string          `json:"Name"`
	Value json.RawMessage `json:"Value,omitempty"`
}

// ResultCode accepts the gateway's result code as a JSON number or string.
// Decoding never fails: an unparseable code is kept in Raw with Valid=false.
type ResultCode struct {
	Code  int
	Raw   string
	Valid bool
}

// SuccessResultCode is the code the gateway uses for a completed payment.
func SuccessResultCode() ResultCode { return ResultCode{Code: 0, Raw: "0", Valid: true} }

func (r *ResultCode) UnmarshalJSON(b []byte) error {
	*r = ResultCode{}
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	raw := string(b)
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err == nil {
			raw = s
		}
	}
	r.Raw = strings.TrimSpace(raw)
	if code, err := strconv.Atoi(r.Raw); err == nil {
		r.Code = code
		r.Valid = true
	}
	return nil
}

func (r ResultCode) MarshalJSON() ([]byte, error) {
	switch {
	case r.Valid:
		return []byte(strconv.Itoa(r.Code)), nil
	case r.Raw != "":
		return json.Marshal(r.Raw)
	default:
		return []byte("null"), nil
	}
}

// ParseCallback decodes a raw webhook body. A body that is not a JSON object of the
// expected shape yields ErrMalformedPayload; a well-formed body without a callback
// yields an empty STKCallback.
func ParseCallback(raw []byte) (*STKCallback, error) {
	var env CallbackEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	cb := env.Body.StkCallback
	cb.CheckoutRequestID = strings.TrimSpace(cb.CheckoutRequestID)
	return &cb, nil
}

// NewSyntheticSuccessPayload builds the minimal success-shaped callback used by replay.
func NewSyntheticSuccessPayload(checkoutRequestID string) ([]byte, error) {
	var env CallbackEnvelope
	env.Body.StkCallback = STKCallback{
		CheckoutRequestID: checkoutRequestID,
		ResultCode:        SuccessResultCode(),
	}
	return json.Marshal(env)
}

// Amount returns the value of the metadata item named "Amount".
// ok is false when the callback carries no amount; err is set when it carries one
// that is not a decimal number.
func (c *STKCallback) Amount() (amount decimal.Decimal, ok bool, err error) {
	if c.CallbackMetadata == nil {
		return decimal.Zero, false, nil
	}
	for _, item := range c.CallbackMetadata.Item {
		if item.Name != "Amount" {
			continue
		}
		v := bytes.TrimSpace(item.Value)
		if len(v) == 0 || bytes.Equal(v, []byte("null")) {
			return decimal.Zero, false, nil
		}
		text := string(v)
		if v[0] == '"' {
			if err := json.Unmarshal(v, &text); err != nil {
				return decimal.Zero, true, fmt.Errorf("decoding amount %s: %w", v, err)
			}
		}
		d, err := decimal.NewFromString(strings.TrimSpace(text))
		if err != nil {
			return decimal.Zero, true, fmt.Errorf("parsing amount %q: %w", text, err)
		}
		return d, true, nil
	}
	return decimal.Zero, false, nil
}

var resultCodeLabels = map[int]string{
	0:    "SUCCESS",
	1:    "FAILED",
	2:    "CANCELLED",
	1032: "TIMEOUT",
}

// ResultLabel maps a result code to its descriptive label. Unknown and unparseable
// codes are FAILED.
func ResultLabel(code ResultCode) string {
	if !code.Valid {
		return "FAILED"
	}
	if label, ok := resultCodeLabels[code.Code]; ok {
		return label
	}
	return "FAILED"
}

// Outcome is the decision reached for one callback against one transaction.
type Outcome struct {
	Status         TransactionStatus
	Label          string
	AmountMismatch bool
	Details        string
}

// ResolveOutcome maps the result code to a terminal status and applies the amount
// guard. Any amount carried by the callback must equal expected exactly, otherwise
// the outcome is FAILED regardless of the result code.
func ResolveOutcome(cb *STKCallback, expected decimal.Decimal) Outcome {
	label := ResultLabel(cb.ResultCode)
	out := Outcome{Status: StatusFailed, Label: label}
	if label == "SUCCESS" {
		out.Status = StatusSuccess
	}

	out.Details = cb.ResultDesc
	if label != "SUCCESS" && label != "FAILED" {
		out.Details = strings.TrimSpace(label + ": " + cb.ResultDesc)
	}
	if out.Details == "" {
		out.Details = label
	}

	received, ok, err := cb.Amount()
	switch {
	case err != nil:
		out.Status = StatusFailed
		out.AmountMismatch = true
		out.Details = fmt.Sprintf("amount verification error: expected %s: %v", expected.StringFixed(2), err)
	case ok && !received.Equal(expected):
		out.Status = StatusFailed
		out.AmountMismatch = true
		out.Details = fmt.Sprintf("amount mismatch: expected %s, received %s", expected.StringFixed(2), received.StringFixed(2))
	}
	return out
}
