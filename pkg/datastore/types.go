package datastore

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ReadConsistency is the staleness tolerance of a read.
type ReadConsistency string

const (
	// Eventual reads may return stale data. It is the default.
	Eventual ReadConsistency = "EVENTUAL"
	// Strong reads observe the latest committed data.
	Strong ReadConsistency = "STRONG"
	// Unspecified leaves the choice to the server.
	Unspecified ReadConsistency = "READ_CONSISTENCY_UNSPECIFIED"
)

// ParseReadConsistency maps the wire name s onto a ReadConsistency. Names
// match exactly; anything else, including "strong", is Eventual.
func ParseReadConsistency(s string) ReadConsistency {
	switch strings.TrimSpace(s) {
	case string(Strong):
		return Strong
	case string(Unspecified):
		return Unspecified
	default:
		return Eventual
	}
}

// Key identifies a single entity. Exactly one of ID or Name is set.
type Key struct {
	Namespace string
	Kind      string
	ID        int64
	Name      string
}

// IDKey returns a key with a numeric id.
func IDKey(namespace, kind string, id int64) Key {
	return Key{Namespace: namespace, Kind: kind, ID: id}
}

// NameKey returns a key with a string name.
func NameKey(namespace, kind, name string) Key {
	return Key{Namespace: namespace, Kind: kind, Name: name}
}

func (k Key) validate() error {
	if strings.TrimSpace(k.Kind) == "" {
		return fmt.Errorf("datastore: key kind is required")
	}
	if k.ID != 0 && k.Name != "" {
		return fmt.Errorf("datastore: key %s has both id and name", k)
	}
	if k.ID == 0 && k.Name == "" {
		return fmt.Errorf("datastore: key of kind %q needs an id or a name", k.Kind)
	}
	return nil
}

func (k Key) String() string {
	ident := k.Name
	if ident == "" {
		ident = fmt.Sprintf("%d", k.ID)
	}
	if k.Namespace == "" {
		return k.Kind + "/" + ident
	}
	return k.Namespace + ":" + k.Kind + "/" + ident
}

// Operator is a property filter comparison.
type Operator int

const (
	OperatorUnspecified Operator = iota
	LessThan
	LessThanOrEqual
	GreaterThan
	GreaterThanOrEqual
	Equal
	HasAncestor
)

var operatorNames = [...]string{
	OperatorUnspecified: "OPERATOR_UNSPECIFIED",
	LessThan:            "LESS_THAN",
	LessThanOrEqual:     "LESS_THAN_OR_EQUAL",
	GreaterThan:         "GREATER_THAN",
	GreaterThanOrEqual:  "GREATER_THAN_OR_EQUAL",
	Equal:               "EQUAL",
	HasAncestor:         "HAS_ANCESTOR",
}

var operatorSymbols = map[string]Operator{
	"<":  LessThan,
	"<=": LessThanOrEqual,
	">":  GreaterThan,
	">=": GreaterThanOrEqual,
	"=":  Equal,
	"==": Equal,
}

func (op Operator) String() string {
	if op < 0 || int(op) >= len(operatorNames) {
		return operatorNames[OperatorUnspecified]
	}
	return operatorNames[op]
}

// MarshalJSON encodes the operator by its wire name.
func (op Operator) MarshalJSON() ([]byte, error) {
	return json.Marshal(op.String())
}

// UnmarshalJSON decodes a wire name.
func (op *Operator) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, err := ParseOperator(name)
	if err != nil {
		return err
	}
	*op = parsed
	return nil
}

// ParseOperator accepts a wire name ("EQUAL") or a comparison symbol ("=").
func ParseOperator(s string) (Operator, error) {
	s = strings.TrimSpace(s)
	if op, ok := operatorSymbols[s]; ok {
		return op, nil
	}
	upper := strings.ToUpper(s)
	for i, name := range operatorNames {
		if name == upper {
			return Operator(i), nil
		}
	}
	return OperatorUnspecified, fmt.Errorf("datastore: unknown operator %q", s)
}

// Filter restricts a query to entities whose property compares to Value.
type Filter struct {
	Property string
	Op       Operator
	Value    Value
}

// Query selects entities of one kind, optionally filtered.
type Query struct {
	Namespace string
	Kind      string
	// Filter is optional; nil matches every entity of Kind.
	Filter *Filter
	// Limit caps the number of results when positive.
	Limit int32
}

// ReadOptions control a single read.
type ReadOptions struct {
	Consistency ReadConsistency
	// Transaction, when set, reads inside the transaction and replaces
	// Consistency on the wire.
	Transaction string
}

// ReadOption adjusts ReadOptions for one call.
type ReadOption func(*ReadOptions)

// WithReadConsistency overrides the default Eventual consistency.
func WithReadConsistency(rc ReadConsistency) ReadOption {
	return func(o *ReadOptions) {
		o.Consistency = rc
	}
}

// InTransaction reads within the transaction returned by BeginTransaction.
func InTransaction(handle string) ReadOption {
	return func(o *ReadOptions) {
		o.Transaction = handle
	}
}

func resolveReadOptions(opts []ReadOption) ReadOptions {
	ro := ReadOptions{Consistency: Eventual}
	for _, opt := range opts {
		if opt != nil {
			opt(&ro)
		}
	}
	if ro.Consistency == "" {
		ro.Consistency = Eventual
	}
	return ro
}
