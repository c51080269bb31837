package datastore

import (
	"encoding/json"
	"net/http"

	"github.com/goheros/datastore_sdk_go/internal/googleapi"
	"github.com/goheros/datastore_sdk_go/pkg/apierror"
)

// Entity is a stored record: its key and its property envelopes.
type Entity struct {
	Key        *WireKey   `json:"key,omitempty"`
	Properties Properties `json:"properties,omitempty"`
}

// EntityResult wraps an entity returned by lookup or runQuery.
type EntityResult struct {
	Entity  Entity `json:"entity"`
	Version string `json:"version,omitempty"`
	Cursor  string `json:"cursor,omitempty"`
}

// LookupResponse is the body returned by lookup.
type LookupResponse struct {
	Found    []EntityResult `json:"found,omitempty"`
	Missing  []EntityResult `json:"missing,omitempty"`
	Deferred []WireKey      `json:"deferred,omitempty"`
}

// QueryResultBatch holds query results in server order.
type QueryResultBatch struct {
	EntityResultType string         `json:"entityResultType,omitempty"`
	EntityResults    []EntityResult `json:"entityResults,omitempty"`
	EndCursor        string         `json:"endCursor,omitempty"`
	MoreResults      string         `json:"moreResults,omitempty"`
}

// RunQueryResponse is the body returned by runQuery.
type RunQueryResponse struct {
	Batch *QueryResultBatch `json:"batch,omitempty"`
}

// BeginTransactionResponse is the body returned by beginTransaction.
type BeginTransactionResponse struct {
	Transaction string `json:"transaction"`
}

const unexpectedShape = "unexpected response shape"

// interpretLookup classifies a 2xx lookup body. Found decodes the first
// entity; missing and deferred become typed errors.
func interpretLookup(body []byte, key Key) (map[string]any, error) {
	var resp LookupResponse
	if err := googleapi.Decode(body, &resp); err != nil {
		return nil, err
	}
	switch {
	case len(resp.Found) > 0:
		return DecodeProperties(resp.Found[0].Entity.Properties)
	case len(resp.Missing) > 0:
		return nil, apierror.New(apierror.KindNotFound, http.StatusNotFound, "entity %s not found", key)
	case len(resp.Deferred) > 0:
		return nil, apierror.New(apierror.KindDeferred, http.StatusServiceUnavailable, "lookup of %s was deferred by the server", key)
	default:
		return nil, apierror.Structural(unexpectedShape)
	}
}

// interpretQuery decodes every entity of the batch in server order. A batch
// without entityResults yields an empty, non-nil slice.
func interpretQuery(body []byte) ([]map[string]any, error) {
	var resp RunQueryResponse
	if err := googleapi.Decode(body, &resp); err != nil {
		return nil, err
	}
	if resp.Batch == nil {
		return nil, apierror.Structural(unexpectedShape)
	}
	out := make([]map[string]any, 0, len(resp.Batch.EntityResults))
	for _, result := range resp.Batch.EntityResults {
		props, err := DecodeProperties(result.Entity.Properties)
		if err != nil {
			return nil, err
		}
		out = append(out, props)
	}
	return out, nil
}

func interpretBeginTransaction(body []byte) (string, error) {
	var resp BeginTransactionResponse
	if err := googleapi.Decode(body, &resp); err != nil {
		return "", err
	}
	if resp.Transaction == "" {
		return "", apierror.Structural(unexpectedShape)
	}
	return resp.Transaction, nil
}

// decodeRecord converts plain values into T through their JSON form, so T
// may be any struct with json tags or a map. Targets that hold plain values
// as they are (map[string]any and any) receive them unchanged, keeping
// integers as int64.
func decodeRecord[T any](props map[string]any) (*T, error) {
	var out T
	switch target := any(&out).(type) {
	case *map[string]any:
		*target = props
		return &out, nil
	case *any:
		*target = props
		return &out, nil
	}

	data, err := json.Marshal(props)
	if err != nil {
		return nil, apierror.Wrap(apierror.KindCodec, http.StatusInternalServerError, err, "encode record: %v", err)
	}
	// Offsets here index the re-encoded record, not the response body, so
	// the error carries no position.
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, apierror.Wrap(apierror.KindStructural, http.StatusInternalServerError, err, "decode record into %T: %v", out, err)
	}
	return &out, nil
}
