package op

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// FieldKind is the declared type of a payload field.
type FieldKind string

const (
	KindString FieldKind = "string"
	KindNumber FieldKind = "number"
	KindBool   FieldKind = "bool"
	KindAny    FieldKind = "any"
)

// Schema declares the payload shape for one target collection.
//
// Payloads are validated against their schema once at enqueue time so a
// malformed payload fails fast in the originating business operation
// instead of surfacing later as a dispatch failure.
type Schema struct {
	// Collection names the target collection (e.g. "bills").
	Collection string `yaml:"collection"`

	// Fields maps field name to its declared kind. Fields not listed
	// are rejected unless AllowExtra is set.
	Fields map[string]FieldKind `yaml:"fields"`

	// Required lists fields that must be present.
	Required []string `yaml:"required"`

	// Critical lists fields that always resolve to the remote value
	// during merge conflict resolution. Monetary totals and payment
	// state live here so concurrent writers cannot drift balances.
	Critical []string `yaml:"critical"`

	// AllowExtra admits fields not declared in Fields.
	AllowExtra bool `yaml:"allow_extra"`
}

// Registry holds the schemas for all syncable collections.
type Registry struct {
	schemas map[string]*Schema
}

// NewRegistry builds a registry from the given schemas.
func NewRegistry(schemas ...*Schema) *Registry {
	r := &Registry{schemas: make(map[string]*Schema)}
	for _, s := range schemas {
		r.schemas[s.Collection] = s
	}
	return r
}

// DefaultRegistry returns the built-in schemas for the standard business
// collections: customers, products, bills and bill_items. Deployments
// with additional collections extend these via LoadSchemas.
func DefaultRegistry() *Registry {
	return NewRegistry(
		&Schema{
			Collection: "customers",
			Fields: map[string]FieldKind{
				"name":    KindString,
				"phone":   KindString,
				"email":   KindString,
				"balance": KindNumber,
				"version": KindNumber,
			},
			Required: []string{"name", "version"},
			Critical: []string{"balance"},
		},
		&Schema{
			Collection: "products",
			Fields: map[string]FieldKind{
				"name":      KindString,
				"sku":       KindString,
				"price":     KindNumber,
				"stock_qty": KindNumber,
				"unit":      KindString,
				"version":   KindNumber,
			},
			Required: []string{"name", "price", "version"},
			Critical: []string{"price", "stock_qty"},
		},
		&Schema{
			Collection: "bills",
			Fields: map[string]FieldKind{
				"customer_id":    KindString,
				"invoice_number": KindString,
				"bill_date":      KindString,
				"total_amount":   KindNumber,
				"paid_amount":    KindNumber,
				"status":         KindString,
				"version":        KindNumber,
			},
			Required: []string{"invoice_number", "total_amount", "status", "version"},
			Critical: []string{"total_amount", "paid_amount", "status"},
		},
		&Schema{
			Collection: "bill_items",
			Fields: map[string]FieldKind{
				"bill_id":    KindString,
				"product_id": KindString,
				"qty":        KindNumber,
				"price":      KindNumber,
				"total":      KindNumber,
				"version":    KindNumber,
			},
			Required: []string{"bill_id", "qty", "price", "total", "version"},
			Critical: []string{"total"},
		},
	)
}

// LoadSchemas reads schema declarations from a YAML file and merges them
// into the registry, replacing any built-in schema for the same
// collection.
//
// Expected format:
//
//	schemas:
//	  - collection: vendors
//	    required: [name, version]
//	    critical: [balance]
//	    fields:
//	      name: string
//	      balance: number
//	      version: number
func (r *Registry) LoadSchemas(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read schema file %s: %w", path, err)
	}

	var doc struct {
		Schemas []*Schema `yaml:"schemas"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse schema file %s: %w", path, err)
	}

	for _, s := range doc.Schemas {
		if s.Collection == "" {
			return fmt.Errorf("schema file %s: schema without collection name", path)
		}
		r.schemas[s.Collection] = s
	}
	return nil
}

// Schema returns the schema for a collection, or nil if unknown.
func (r *Registry) Schema(collection string) *Schema {
	return r.schemas[collection]
}

// Critical returns the critical field set for a collection. Unknown
// collections have no critical fields.
func (r *Registry) Critical(collection string) []string {
	if s := r.schemas[collection]; s != nil {
		return s.Critical
	}
	return nil
}

// Validate checks a payload against the collection's declared schema.
// Delete operations carry no payload and asset uploads carry opaque
// content; both skip field checks.
func (r *Registry) Validate(collection string, typ Type, payload map[string]any) error {
	if typ == TypeDelete || typ == TypeUploadAsset {
		return nil
	}
	s := r.schemas[collection]
	if s == nil {
		return fmt.Errorf("unknown collection %q", collection)
	}

	for _, req := range s.Required {
		if _, ok := payload[req]; !ok {
			return fmt.Errorf("collection %q: missing required field %q", collection, req)
		}
	}

	for name, value := range payload {
		kind, declared := s.Fields[name]
		if !declared {
			if s.AllowExtra {
				continue
			}
			return fmt.Errorf("collection %q: undeclared field %q", collection, name)
		}
		if err := checkKind(value, kind); err != nil {
			return fmt.Errorf("collection %q: field %q: %w", collection, name, err)
		}
	}
	return nil
}

// checkKind verifies a payload value against its declared kind. Nil is
// accepted for any kind (optional field explicitly cleared).
func checkKind(value any, kind FieldKind) error {
	if value == nil || kind == KindAny {
		return nil
	}
	switch kind {
	case KindString:
		if _, ok := value.(string); !ok {
			return fmt.Errorf("expected string, got %T", value)
		}
	case KindNumber:
		switch value.(type) {
		case int, int64, float64:
		default:
			return fmt.Errorf("expected number, got %T", value)
		}
	case KindBool:
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("expected bool, got %T", value)
		}
	default:
		return fmt.Errorf("unknown field kind %q", kind)
	}
	return nil
}
