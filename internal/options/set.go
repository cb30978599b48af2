package options

import (
	"strings"
	"unicode"
)

// FlagPrefix precedes every flag name on the tidy command line.
const FlagPrefix = "--"

// Set is an insertion-ordered mapping of option names to values.
// A nil *Set behaves as an empty set for reads.
type Set struct {
	keys   []string
	values map[string]Value
}

// NewSet constructs an empty Set.
func NewSet() *Set {
	return &Set{values: map[string]Value{}}
}

// FlagName converts an option key such as newBlocklevelTags into new-blocklevel-tags.
func FlagName(key string) string {
	var builder strings.Builder
	builder.Grow(len(key) + 4)
	for index, character := range key {
		if unicode.IsUpper(character) {
			if index > 0 {
				builder.WriteByte('-')
			}
			builder.WriteRune(unicode.ToLower(character))
			continue
		}
		builder.WriteRune(character)
	}
	return builder.String()
}

// Put stores value under key. Existing keys keep their position.
func (set *Set) Put(key string, value Value) {
	if set.values == nil {
		set.values = map[string]Value{}
	}
	if _, exists := set.values[key]; !exists {
		set.keys = append(set.keys, key)
	}
	set.values[key] = value
}

// Get returns the value stored under key.
func (set *Set) Get(key string) (Value, bool) {
	if set == nil {
		return Value{}, false
	}
	value, exists := set.values[key]
	return value, exists
}

// Delete removes key.
func (set *Set) Delete(key string) {
	if set == nil {
		return
	}
	if _, exists := set.values[key]; !exists {
		return
	}
	delete(set.values, key)
	for index, existingKey := range set.keys {
		if existingKey == key {
			set.keys = append(set.keys[:index], set.keys[index+1:]...)
			break
		}
	}
}

// Keys returns the keys in insertion order.
func (set *Set) Keys() []string {
	if set == nil {
		return nil
	}
	return append([]string(nil), set.keys...)
}

// Len reports the number of entries.
func (set *Set) Len() int {
	if set == nil {
		return 0
	}
	return len(set.keys)
}

// Clone returns an independent copy.
func (set *Set) Clone() *Set {
	cloned := NewSet()
	if set == nil {
		return cloned
	}
	cloned.keys = append(make([]string, 0, len(set.keys)), set.keys...)
	for key, value := range set.values {
		cloned.values[key] = value
	}
	return cloned
}

// Merge returns a copy of the receiver with every entry of override applied on top.
func (set *Set) Merge(override *Set) *Set {
	merged := set.Clone()
	if override == nil {
		return merged
	}
	for _, key := range override.keys {
		merged.Put(key, override.values[key])
	}
	return merged
}

// FindFlag returns the first entry whose key maps to flagName, in either camelCase or hyphenated spelling.
func (set *Set) FindFlag(flagName string) (string, Value, bool) {
	if set == nil {
		return "", Value{}, false
	}
	for _, key := range set.keys {
		if FlagName(key) == flagName {
			return key, set.values[key], true
		}
	}
	return "", Value{}, false
}

// Force removes every key mapping to the same flag as key and appends key with value last.
func (set *Set) Force(key string, value Value) {
	flagName := FlagName(key)
	for _, existingKey := range set.Keys() {
		if FlagName(existingKey) == flagName {
			set.Delete(existingKey)
		}
	}
	set.Put(key, value)
}
