package event

import "fmt"

// Filter is a predicate evaluated against events, issued inside REQ frames.
// Zero-valued (nil) fields mean "unconstrained" along that axis, per NIP-01.
type Filter struct {
	IDs     []ID              `json:"ids,omitempty"`
	Authors []Pubkey          `json:"authors,omitempty"`
	Kinds   []int             `json:"kinds,omitempty"`
	Since   *int64            `json:"since,omitempty"`
	Until   *int64            `json:"until,omitempty"`
	Limit   *int              `json:"limit,omitempty"`
	Tags    map[string][]string `json:"-"` // single-char tag key -> values, e.g. "e", "p"
}

// Validate checks the shape invariants from spec §3.
func (f Filter) Validate() error {
	for _, id := range f.IDs {
		if err := validateHex("filter.ids[]", string(id), idLen); err != nil {
			return err
		}
	}
	for _, a := range f.Authors {
		if err := validateHex("filter.authors[]", string(a), pkLen); err != nil {
			return err
		}
	}
	for _, k := range f.Kinds {
		if k < 0 || k > 65535 {
			return fmt.Errorf("filter: kind %d out of range 0..65535", k)
		}
	}
	for key, values := range f.Tags {
		if len(key) != 1 {
			return fmt.Errorf("filter: tag key %q must be a single character", key)
		}
		if len(values) == 0 {
			return fmt.Errorf("filter: tag #%s has no values", key)
		}
	}
	return nil
}

// Match reports whether e satisfies every constraint in f except Limit.
// It is a client-side, advisory check for library consumers (the relay is
// still the authority); nothing in this module calls it.
func (f Filter) Match(e Event) bool {
	if len(f.IDs) > 0 && !containsID(f.IDs, e.ID) {
		return false
	}
	if len(f.Authors) > 0 && !containsPubkey(f.Authors, e.PubKey) {
		return false
	}
	if len(f.Kinds) > 0 && !containsInt(f.Kinds, e.Kind) {
		return false
	}
	if f.Since != nil && e.CreatedAt < *f.Since {
		return false
	}
	if f.Until != nil && e.CreatedAt > *f.Until {
		return false
	}
	for key, values := range f.Tags {
		if !eventHasAnyTagValue(e, key, values) {
			return false
		}
	}
	return true
}

func containsID(s []ID, v ID) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

func containsPubkey(s []Pubkey, v Pubkey) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

func containsInt(s []int, v int) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

func eventHasAnyTagValue(e Event, key string, wanted []string) bool {
	for _, tag := range e.Tags {
		if len(tag) >= 2 && tag[0] == key {
			for _, w := range wanted {
				if tag[1] == w {
					return true
				}
			}
		}
	}
	return false
}
