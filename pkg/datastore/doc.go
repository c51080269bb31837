// Package datastore is a client for the Cloud Datastore v1 REST API covering
// key lookups, single-property-filter queries and transaction handles.
//
// Entities travel as property envelopes in which each value is tagged with
// its datatype ({"integerValue":"42"}, {"stringValue":"List"}). The client
// decodes them into plain values and then into the caller's type:
//
//	type Hero struct {
//		HeroID int64  `json:"HeroID"`
//		Action string `json:"Action"`
//		Time   string `json:"Time"`
//	}
//
//	client, err := datastore.New("goheros-207118", auth.APIKey(key))
//	hero, err := datastore.Lookup[Hero](ctx, client, datastore.IDKey("", "heroes", 5629499534213120))
//
// Only null, boolean, string, integer, double and timestamp values are
// understood; arrays, embedded entities, geo points and key values fail with
// a codec error. Every failure is an *apierror.Error. Calls are never retried.
package datastore
