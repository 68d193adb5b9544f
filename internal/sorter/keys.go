package sorter

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strings"
)

// ErrUnknownOrder is returned by LookupOrder for an unregistered name.
var ErrUnknownOrder = errors.New("unknown sort order")

// Order compares two lines and returns a negative number when a sorts
// before b, zero when they are equal, and a positive number otherwise.
type Order func(a, b string) int

// ByKey builds an Order that compares lines by key(line).
func ByKey[K cmp.Ordered](key func(string) K) Order {
	return func(a, b string) int {
		return cmp.Compare(key(a), key(b))
	}
}

// Bytewise orders lines by their raw bytes.
func Bytewise(a, b string) int {
	return strings.Compare(a, b)
}

// Casefold orders lines ignoring letter case.
var Casefold = ByKey(strings.ToLower)

// Domain orders hostnames by their labels from the top level down, so
// that sub.example.com sorts right after example.com. For hosts-file style
// lines ("0.0.0.0 example.com") only the last field is considered.
var Domain = ByKey(domainKey)

func domainKey(line string) string {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return ""
	}
	labels := strings.Split(strings.ToLower(strings.TrimSuffix(fields[len(fields)-1], ".")), ".")
	slices.Reverse(labels)
	return strings.Join(labels, ".")
}

var orders = map[string]Order{
	"bytewise": Bytewise,
	"casefold": Casefold,
	"domain":   Domain,
}

// OrderNames returns the names accepted by LookupOrder.
func OrderNames() []string {
	names := make([]string, 0, len(orders))
	for name := range orders {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// LookupOrder resolves a configured order name.
func LookupOrder(name string) (Order, error) {
	o, ok := orders[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("%w: %q (want one of %s)", ErrUnknownOrder, name, strings.Join(OrderNames(), ", "))
	}
	return o, nil
}

// total refines o with bytewise order so that only identical lines compare
// equal. Identical lines then always end up adjacent after a merge, even
// when o itself treats distinct lines as equal.
func total(o Order) Order {
	return func(a, b string) int {
		if c := o(a, b); c != 0 {
			return c
		}
		return strings.Compare(a, b)
	}
}
