package options

import "fmt"

const serializationFaultFormat = "option %q has unsupported type %s"

// SerializationFault reports an option value that cannot be rendered as an argument.
type SerializationFault struct {
	Key  string
	Type string
}

// Error describes the offending option.
func (fault *SerializationFault) Error() string {
	return fmt.Sprintf(serializationFaultFormat, fault.Key, fault.Type)
}

// Serialize converts the set into alternating --flag value arguments in insertion order.
// The whole call fails on the first unsupported value.
func Serialize(set *Set) ([]string, error) {
	arguments := make([]string, 0, set.Len()*2)
	for _, key := range set.Keys() {
		if key == "" {
			continue
		}
		value, _ := set.Get(key)
		token, supported := value.Token()
		if !supported {
			return nil, &SerializationFault{Key: key, Type: value.TypeName()}
		}
		arguments = append(arguments, FlagPrefix+FlagName(key), token)
	}
	return arguments, nil
}
