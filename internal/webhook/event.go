// Package webhook decodes purchase notifications sent by the checkout provider.
package webhook

import (
	"encoding/json"
	"net/url"

	"github.com/smallbiznis/devhub/internal/domain"
)

// Shape identifies where in the payload the buyer email was found.
type Shape int

const (
	ShapeUnknown Shape = iota
	// ShapeNested is {"data":{"buyer":{"email":...}}}.
	ShapeNested
	// ShapeFlat is {"buyer":{"email":...}}.
	ShapeFlat
)

func (s Shape) String() string {
	switch s {
	case ShapeNested:
		return "nested"
	case ShapeFlat:
		return "flat"
	default:
		return "unknown"
	}
}

// Event is the part of a purchase notification the reconciler needs. Raw keeps
// the payload as received for diagnostics.
type Event struct {
	Shape          Shape
	Email          string
	Name           string
	ProductID      string
	PurchaseStatus string
	Raw            json.RawMessage
}

// object is one level of a provider payload. Fields are decoded lazily so an
// unexpected type in one of them never hides the others.
type object map[string]json.RawMessage

func decodeObject(raw json.RawMessage) object {
	var o object
	if len(raw) == 0 || json.Unmarshal(raw, &o) != nil {
		return nil
	}
	return o
}

func (o object) child(key string) object {
	if o == nil {
		return nil
	}
	return decodeObject(o[key])
}

func (o object) str(key string) string {
	if o == nil {
		return ""
	}
	var s string
	if json.Unmarshal(o[key], &s) != nil {
		return ""
	}
	return s
}

// id accepts both numeric and string values.
func (o object) id(key string) string {
	if o == nil || len(o[key]) == 0 {
		return ""
	}
	if s := o.str(key); s != "" {
		return s
	}
	var n json.Number
	if json.Unmarshal(o[key], &n) == nil {
		return n.String()
	}
	return ""
}

// Parse decodes raw into an Event. The nested shape wins whenever it carries a
// non-empty email; otherwise the flat shape is used. The email is taken
// verbatim. Metadata fields of an unexpected type are left empty. Payloads
// that are not JSON objects or carry no email fail with domain.ErrMissingEmail.
func Parse(raw []byte) (Event, error) {
	ev := Event{Raw: rawOrNull(raw)}
	root := decodeObject(raw)
	if root == nil {
		return ev, domain.ErrMissingEmail
	}

	data := root.child("data")
	ev.Name = root.str("event")
	ev.PurchaseStatus = data.child("purchase").str("status")
	ev.ProductID = data.child("product").id("id")
	if ev.ProductID == "" {
		ev.ProductID = root.child("product").id("id")
	}

	return ev.withEmail(data.child("buyer").str("email"), root.child("buyer").str("email"))
}

// ParseForm builds an Event from a form-encoded delivery using bracketed keys
// (data[buyer][email], buyer[email]) with the same precedence as Parse.
func ParseForm(form url.Values) (Event, error) {
	flat := make(map[string]string, len(form))
	for k := range form {
		flat[k] = form.Get(k)
	}
	raw, err := json.Marshal(flat)
	if err != nil {
		raw = []byte("null")
	}

	ev := Event{
		Raw:            raw,
		Name:           form.Get("event"),
		PurchaseStatus: form.Get("data[purchase][status]"),
		ProductID:      form.Get("data[product][id]"),
	}
	if ev.ProductID == "" {
		ev.ProductID = form.Get("product[id]")
	}
	return ev.withEmail(form.Get("data[buyer][email]"), form.Get("buyer[email]"))
}

func (ev Event) withEmail(nested, flat string) (Event, error) {
	switch {
	case nested != "":
		ev.Shape = ShapeNested
		ev.Email = nested
	case flat != "":
		ev.Shape = ShapeFlat
		ev.Email = flat
	default:
		return ev, domain.ErrMissingEmail
	}
	return ev, nil
}

func rawOrNull(raw []byte) json.RawMessage {
	if !json.Valid(raw) {
		return json.RawMessage("null")
	}
	return json.RawMessage(raw)
}
