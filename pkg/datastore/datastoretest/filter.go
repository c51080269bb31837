package datastoretest

import (
	"cmp"
	"fmt"

	"github.com/goheros/datastore_sdk_go/pkg/datastore"
)

// matches evaluates a property filter against stored envelopes. Entities
// without the property never match, and values of different datatypes are
// unequal and unordered.
func matches(props datastore.Properties, f *datastore.PropertyFilter) (bool, error) {
	raw, ok := props[f.Property.Name]
	if !ok {
		return false, nil
	}
	plain, err := datastore.DecodeProperties(datastore.Properties{f.Property.Name: raw})
	if err != nil {
		return false, err
	}
	order, ok := compare(plain[f.Property.Name], f.Value.Interface())
	if !ok {
		return false, nil
	}

	switch f.Op {
	case datastore.Equal:
		return order == 0, nil
	case datastore.LessThan:
		return order < 0, nil
	case datastore.LessThanOrEqual:
		return order <= 0, nil
	case datastore.GreaterThan:
		return order > 0, nil
	case datastore.GreaterThanOrEqual:
		return order >= 0, nil
	default:
		return false, fmt.Errorf("unsupported operator %s", f.Op)
	}
}

// compare orders two plain values of the same datatype. Integers and doubles
// compare numerically with each other.
func compare(a, b any) (int, bool) {
	switch av := a.(type) {
	case nil:
		return 0, b == nil
	case bool:
		bv, ok := b.(bool)
		if !ok {
			return 0, false
		}
		switch {
		case av == bv:
			return 0, true
		case !av:
			return -1, true
		default:
			return 1, true
		}
	case string:
		bv, ok := b.(string)
		if !ok {
			return 0, false
		}
		return cmp.Compare(av, bv), true
	case int64:
		switch bv := b.(type) {
		case int64:
			return cmp.Compare(av, bv), true
		case float64:
			return cmp.Compare(float64(av), bv), true
		}
	case float64:
		switch bv := b.(type) {
		case int64:
			return cmp.Compare(av, float64(bv)), true
		case float64:
			return cmp.Compare(av, bv), true
		}
	}
	return 0, false
}
