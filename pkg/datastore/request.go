package datastore

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// RPC method names appended to the project path.
const (
	MethodLookup           = "lookup"
	MethodRunQuery         = "runQuery"
	MethodBeginTransaction = "beginTransaction"
)

// PartitionID scopes keys and queries to a namespace.
type PartitionID struct {
	ProjectID   string `json:"projectId,omitempty"`
	NamespaceID string `json:"namespaceId,omitempty"`
}

// PathElement is one (kind, identifier) pair of a key path. ID is an int64
// carried as a decimal string.
type PathElement struct {
	Kind string `json:"kind"`
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

// WireKey is the JSON form of a Key.
type WireKey struct {
	PartitionID PartitionID   `json:"partitionId"`
	Path        []PathElement `json:"path"`
}

// Key converts w back into a Key using its last path element.
func (w WireKey) Key() (Key, error) {
	if len(w.Path) == 0 {
		return Key{}, fmt.Errorf("datastore: key has an empty path")
	}
	last := w.Path[len(w.Path)-1]
	k := Key{Namespace: w.PartitionID.NamespaceID, Kind: last.Kind, Name: last.Name}
	if last.ID != "" {
		id, err := strconv.ParseInt(last.ID, 10, 64)
		if err != nil {
			return Key{}, fmt.Errorf("datastore: key id %q: %w", last.ID, err)
		}
		k.ID = id
	}
	return k, nil
}

// Wire returns the JSON form of k.
func (k Key) Wire() WireKey {
	el := PathElement{Kind: k.Kind, Name: k.Name}
	if k.Name == "" {
		el.ID = strconv.FormatInt(k.ID, 10)
	}
	return WireKey{
		PartitionID: PartitionID{NamespaceID: k.Namespace},
		Path:        []PathElement{el},
	}
}

// WireReadOptions is the readOptions object. Consistency and Transaction are
// mutually exclusive on the wire.
type WireReadOptions struct {
	ReadConsistency ReadConsistency `json:"readConsistency,omitempty"`
	Transaction     string          `json:"transaction,omitempty"`
}

func (o ReadOptions) wire() WireReadOptions {
	if o.Transaction != "" {
		return WireReadOptions{Transaction: o.Transaction}
	}
	return WireReadOptions{ReadConsistency: o.Consistency}
}

// LookupRequest is the body of projects/{project}:lookup.
type LookupRequest struct {
	ReadOptions WireReadOptions `json:"readOptions"`
	Keys        []WireKey       `json:"keys"`
}

// KindExpression names the kind a query selects.
type KindExpression struct {
	Name string `json:"name"`
}

// PropertyReference names a property.
type PropertyReference struct {
	Name string `json:"name"`
}

// PropertyFilter compares one property against a literal.
type PropertyFilter struct {
	Property PropertyReference `json:"property"`
	Op       Operator          `json:"op"`
	Value    Value             `json:"value"`
}

// WireFilter is the filter object of a query. Only property filters are
// produced.
type WireFilter struct {
	PropertyFilter *PropertyFilter `json:"propertyFilter,omitempty"`
}

// WireQuery is the query object of a runQuery body.
type WireQuery struct {
	Kind   []KindExpression `json:"kind"`
	Filter *WireFilter      `json:"filter,omitempty"`
	Limit  int32            `json:"limit,omitempty"`
}

// RunQueryRequest is the body of projects/{project}:runQuery.
type RunQueryRequest struct {
	PartitionID PartitionID     `json:"partitionId"`
	ReadOptions WireReadOptions `json:"readOptions"`
	Query       WireQuery       `json:"query"`
}

// BeginTransactionRequest is the body of projects/{project}:beginTransaction.
type BeginTransactionRequest struct{}

// NewLookupRequest builds the lookup body for a single key.
func NewLookupRequest(key Key, opts ReadOptions) (*LookupRequest, error) {
	if err := key.validate(); err != nil {
		return nil, err
	}
	return &LookupRequest{
		ReadOptions: opts.wire(),
		Keys:        []WireKey{key.Wire()},
	}, nil
}

// NewRunQueryRequest builds the runQuery body for q. A nil filter is
// omitted, and Limit is sent only when positive.
func NewRunQueryRequest(q Query, opts ReadOptions) (*RunQueryRequest, error) {
	if strings.TrimSpace(q.Kind) == "" {
		return nil, fmt.Errorf("datastore: query kind is required")
	}
	if q.Limit < 0 {
		return nil, fmt.Errorf("datastore: query limit %d is negative", q.Limit)
	}
	body := &RunQueryRequest{
		PartitionID: PartitionID{NamespaceID: q.Namespace},
		ReadOptions: opts.wire(),
		Query: WireQuery{
			Kind:  []KindExpression{{Name: q.Kind}},
			Limit: q.Limit,
		},
	}
	if f := q.Filter; f != nil {
		if strings.TrimSpace(f.Property) == "" {
			return nil, fmt.Errorf("datastore: filter property is required")
		}
		body.Query.Filter = &WireFilter{PropertyFilter: &PropertyFilter{
			Property: PropertyReference{Name: f.Property},
			Op:       f.Op,
			Value:    f.Value,
		}}
	}
	return body, nil
}

// endpointPath returns "projects/{project}:{method}" relative to the API base.
func endpointPath(project, method string) string {
	return "projects/" + url.PathEscape(project) + ":" + method
}
