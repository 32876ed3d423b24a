package value

import (
	"fmt"
	"sort"
)

// FilterResult partitions candidate variables.
type FilterResult struct {
	Kept    map[string]Value
	Dropped []string // sorted; values are never reported
}

// Filter keeps every candidate that survives conversion plus an
// encode/decode round trip, and drops the rest by name. It never fails:
// any error or panic during conversion counts as "not persistable".
func Filter(candidates map[string]interface{}) FilterResult {
	res := FilterResult{Kept: make(map[string]Value, len(candidates))}
	for name, x := range candidates {
		v, err := Persistable(x)
		if err != nil {
			res.Dropped = append(res.Dropped, name)
			continue
		}
		res.Kept[name] = v
	}
	sort.Strings(res.Dropped)
	return res
}

// Persistable converts x and proves the result round-trips through the
// store encoding unchanged.
func Persistable(x interface{}) (v Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic during conversion: %v", ErrUnsupported, r)
		}
	}()

	v, err = FromGo(x)
	if err != nil {
		return Value{}, err
	}
	data, err := Encode(v)
	if err != nil {
		return Value{}, err
	}
	back, err := Decode(data)
	if err != nil {
		return Value{}, err
	}
	if !back.Equal(v) {
		return Value{}, fmt.Errorf("%w: %s does not survive a round trip", ErrUnsupported, v.Type)
	}
	return v, nil
}
