package options

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"

	"gopkg.in/yaml.v3"
)

const (
	typeNameArray  = "array"
	typeNameObject = "object"

	yamlTagString = "!!str"
	yamlTagInt    = "!!int"
	yamlTagFloat  = "!!float"
	yamlTagBool   = "!!bool"
	yamlTagNull   = "!!null"

	errorExpectedObjectMessage = "options must be a JSON object"
	errorExpectedMappingFormat = "options must be a mapping, line %d"
	errorDecodeKeyFormat       = "decode option key: %w"
	errorDecodeValueFormat     = "decode option %q: %w"
	errorTrailingDataMessage   = "unexpected data after options object"
)

// DecodeJSON parses a JSON object into a Set preserving the key order of the document.
// Null values are treated as absent. Arrays and objects are kept as unsupported values.
func DecodeJSON(data []byte) (*Set, error) {
	decoder := json.NewDecoder(bytes.NewReader(data))
	openingToken, tokenErr := decoder.Token()
	if tokenErr != nil {
		return nil, fmt.Errorf(errorDecodeKeyFormat, tokenErr)
	}
	if delimiter, isDelimiter := openingToken.(json.Delim); !isDelimiter || delimiter != '{' {
		return nil, errors.New(errorExpectedObjectMessage)
	}

	decoded := NewSet()
	for decoder.More() {
		keyToken, keyErr := decoder.Token()
		if keyErr != nil {
			return nil, fmt.Errorf(errorDecodeKeyFormat, keyErr)
		}
		key, isString := keyToken.(string)
		if !isString {
			return nil, errors.New(errorExpectedObjectMessage)
		}
		var rawValue json.RawMessage
		if decodeErr := decoder.Decode(&rawValue); decodeErr != nil {
			return nil, fmt.Errorf(errorDecodeValueFormat, key, decodeErr)
		}
		value, present, valueErr := jsonValue(rawValue)
		if valueErr != nil {
			return nil, fmt.Errorf(errorDecodeValueFormat, key, valueErr)
		}
		if present {
			decoded.Put(key, value)
		}
	}
	if _, closingErr := decoder.Token(); closingErr != nil {
		return nil, fmt.Errorf(errorDecodeKeyFormat, closingErr)
	}
	if _, trailingErr := decoder.Token(); !errors.Is(trailingErr, io.EOF) {
		return nil, errors.New(errorTrailingDataMessage)
	}
	return decoded, nil
}

func jsonValue(rawValue json.RawMessage) (Value, bool, error) {
	trimmed := bytes.TrimSpace(rawValue)
	if len(trimmed) == 0 {
		return Value{}, false, nil
	}
	switch trimmed[0] {
	case 'n':
		return Value{}, false, nil
	case '"':
		var text string
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return Value{}, false, err
		}
		return String(text), true, nil
	case 't', 'f':
		var flag bool
		if err := json.Unmarshal(trimmed, &flag); err != nil {
			return Value{}, false, err
		}
		return Bool(flag), true, nil
	case '[':
		return Unsupported(typeNameArray), true, nil
	case '{':
		return Unsupported(typeNameObject), true, nil
	default:
		number, parseErr := strconv.ParseFloat(string(trimmed), 64)
		if parseErr != nil {
			return Value{}, false, parseErr
		}
		return Number(number), true, nil
	}
}

// DecodeYAMLNode converts a YAML mapping node into a Set preserving the key order and case of the document.
func DecodeYAMLNode(node *yaml.Node) (*Set, error) {
	decoded := NewSet()
	if node == nil {
		return decoded, nil
	}
	if node.Kind == yaml.DocumentNode && len(node.Content) > 0 {
		node = node.Content[0]
	}
	if node.Kind == yaml.ScalarNode && node.Tag == yamlTagNull {
		return decoded, nil
	}
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf(errorExpectedMappingFormat, node.Line)
	}
	for index := 0; index+1 < len(node.Content); index += 2 {
		keyNode := node.Content[index]
		valueNode := node.Content[index+1]
		value, present, valueErr := yamlValue(valueNode)
		if valueErr != nil {
			return nil, fmt.Errorf(errorDecodeValueFormat, keyNode.Value, valueErr)
		}
		if present {
			decoded.Put(keyNode.Value, value)
		}
	}
	return decoded, nil
}

func yamlValue(node *yaml.Node) (Value, bool, error) {
	switch node.Kind {
	case yaml.SequenceNode:
		return Unsupported(typeNameArray), true, nil
	case yaml.MappingNode:
		return Unsupported(typeNameObject), true, nil
	case yaml.AliasNode:
		if node.Alias == nil {
			return Value{}, false, nil
		}
		return yamlValue(node.Alias)
	}
	switch node.Tag {
	case yamlTagNull:
		return Value{}, false, nil
	case yamlTagBool:
		var flag bool
		if err := node.Decode(&flag); err != nil {
			return Value{}, false, err
		}
		return Bool(flag), true, nil
	case yamlTagInt, yamlTagFloat:
		var number float64
		if err := node.Decode(&number); err != nil {
			return Value{}, false, err
		}
		return Number(number), true, nil
	default:
		return String(node.Value), true, nil
	}
}
