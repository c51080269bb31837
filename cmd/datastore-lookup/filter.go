package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/goheros/datastore_sdk_go/pkg/datastore"
)

// Longer symbols first so "<=" is not read as "<".
var filterSymbols = []string{"<=", ">=", "==", "<", ">", "="}

// parseFilter reads "Property<op>Literal", for example "Action=List" or
// "Score >= 15". Literals are typed: null, true and false, integers, then
// doubles. Anything else, or a double-quoted literal, is a string.
func parseFilter(expr string) (*datastore.Filter, error) {
	idx, symbol := -1, ""
	for _, s := range filterSymbols {
		if i := strings.Index(expr, s); i >= 0 && (idx < 0 || i < idx) {
			idx, symbol = i, s
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("filter %q has no comparison operator", expr)
	}
	property := strings.TrimSpace(expr[:idx])
	if property == "" {
		return nil, fmt.Errorf("filter %q has no property", expr)
	}
	op, err := datastore.ParseOperator(symbol)
	if err != nil {
		return nil, err
	}
	value, err := parseLiteral(strings.TrimSpace(expr[idx+len(symbol):]))
	if err != nil {
		return nil, fmt.Errorf("filter %q: %w", expr, err)
	}
	return &datastore.Filter{Property: property, Op: op, Value: value}, nil
}

func parseLiteral(s string) (datastore.Value, error) {
	switch {
	case s == "null":
		return datastore.Null(), nil
	case s == "true" || s == "false":
		return datastore.Bool(s == "true"), nil
	case strings.HasPrefix(s, `"`):
		unquoted, err := strconv.Unquote(s)
		if err != nil {
			return datastore.Value{}, fmt.Errorf("bad string literal %s: %w", s, err)
		}
		return datastore.String(unquoted), nil
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return datastore.Integer(i), nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return datastore.Double(f), nil
	}
	return datastore.String(s), nil
}
