package nostr

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"strings"
)

// Filter is a query over events. A nil list means the field is unconstrained; a present
// but empty list matches nothing. Tags maps a tag name (without the leading '#') to the
// accepted values for that tag.
type Filter struct {
	IDs     []string
	Authors []string
	Kinds   []int
	Since   *int64
	Until   *int64
	Limit   int
	Tags    map[string][]string
}

// Filters is a list of filters which are OR'd together.
type Filters []Filter

// Matches reports whether every populated field of the filter is satisfied by evt.
// Limit is not considered: it only bounds stored-event queries.
func (f *Filter) Matches(evt *Event) bool {
	if f.IDs != nil && !slices.Contains(f.IDs, evt.ID) {
		return false
	}
	if f.Authors != nil && !slices.Contains(f.Authors, evt.PubKey) {
		return false
	}
	if f.Kinds != nil && !slices.Contains(f.Kinds, evt.Kind) {
		return false
	}
	if f.Since != nil && evt.CreatedAt < *f.Since {
		return false
	}
	if f.Until != nil && evt.CreatedAt > *f.Until {
		return false
	}
	for name, values := range f.Tags {
		if !tagMatches(evt.Tags, name, values) {
			return false
		}
	}
	return true
}

func tagMatches(tags Tags, name string, values []string) bool {
	for _, t := range tags {
		if len(t) < 2 || t[0] != name {
			continue
		}
		if slices.Contains(values, t[1]) {
			return true
		}
	}
	return false
}

// Match reports whether any filter in the list matches evt.
func (fs Filters) Match(evt *Event) bool {
	for i := range fs {
		if fs[i].Matches(evt) {
			return true
		}
	}
	return false
}

// Empty reports whether the filter has no populated fields (and so matches everything).
func (f *Filter) Empty() bool {
	return f.IDs == nil && f.Authors == nil && f.Kinds == nil && f.Since == nil && f.Until == nil && len(f.Tags) == 0
}

func (f *Filter) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("filter must be a JSON object: %w", err)
	}
	if raw == nil {
		return fmt.Errorf("filter must be a JSON object")
	}

	*f = Filter{}
	for key, val := range raw {
		var err error
		switch {
		case key == "ids":
			f.IDs, err = decodeList[string](val)
		case key == "authors":
			f.Authors, err = decodeList[string](val)
		case key == "kinds":
			f.Kinds, err = decodeList[int](val)
		case key == "since":
			f.Since, err = decodeTimestamp(val)
		case key == "until":
			f.Until, err = decodeTimestamp(val)
		case key == "limit":
			err = json.Unmarshal(val, &f.Limit)
			if err == nil && f.Limit < 0 {
				err = fmt.Errorf("negative")
			}
		case strings.HasPrefix(key, "#") && len(key) > 1:
			var values []string
			values, err = decodeList[string](val)
			if err == nil && values != nil {
				if f.Tags == nil {
					f.Tags = make(map[string][]string)
				}
				f.Tags[key[1:]] = values
			}
		default:
			// unsupported extension fields (eg, "search") are ignored
		}
		if err != nil {
			return fmt.Errorf("invalid filter field %q: %w", key, err)
		}
	}
	return nil
}

func decodeList[T any](val json.RawMessage) ([]T, error) {
	if bytes.Equal(bytes.TrimSpace(val), []byte("null")) {
		return nil, nil
	}
	var out []T
	if err := json.Unmarshal(val, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []T{}
	}
	return out, nil
}

func decodeTimestamp(val json.RawMessage) (*int64, error) {
	if bytes.Equal(bytes.TrimSpace(val), []byte("null")) {
		return nil, nil
	}
	var ts int64
	if err := json.Unmarshal(val, &ts); err != nil {
		return nil, err
	}
	return &ts, nil
}

func (f Filter) MarshalJSON() ([]byte, error) {
	out := make(map[string]any)
	if f.IDs != nil {
		out["ids"] = f.IDs
	}
	if f.Authors != nil {
		out["authors"] = f.Authors
	}
	if f.Kinds != nil {
		out["kinds"] = f.Kinds
	}
	if f.Since != nil {
		out["since"] = *f.Since
	}
	if f.Until != nil {
		out["until"] = *f.Until
	}
	if f.Limit > 0 {
		out["limit"] = f.Limit
	}
	names := make([]string, 0, len(f.Tags))
	for name := range f.Tags {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		out["#"+name] = f.Tags[name]
	}
	return json.Marshal(out)
}
