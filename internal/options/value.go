// Package options models tidy option values and option sets and converts them into command line arguments.
package options

import (
	"strconv"
)

// Kind identifies the variant stored in a Value.
type Kind int

const (
	// KindUnsupported marks values that cannot be passed to tidy.
	KindUnsupported Kind = iota
	// KindString marks literal text values.
	KindString
	// KindNumber marks numeric values.
	KindNumber
	// KindBool marks boolean values rendered as yes/no.
	KindBool
)

const (
	booleanTrueToken  = "yes"
	booleanFalseToken = "no"

	typeNameString    = "string"
	typeNameNumber    = "number"
	typeNameBool      = "boolean"
	typeNameUndefined = "undefined"
)

// Value is a tidy option value: a string, a number or a boolean.
// The zero Value is unsupported.
type Value struct {
	kind       Kind
	text       string
	number     float64
	flag       bool
	sourceType string
}

// String constructs a string value.
func String(text string) Value {
	return Value{kind: KindString, text: text}
}

// Number constructs a numeric value.
func Number(number float64) Value {
	return Value{kind: KindNumber, number: number}
}

// Int constructs a numeric value from an integer.
func Int(number int) Value {
	return Number(float64(number))
}

// Bool constructs a boolean value.
func Bool(flag bool) Value {
	return Value{kind: KindBool, flag: flag}
}

// Unsupported records a decoded value of a type tidy cannot accept, such as an array.
func Unsupported(sourceType string) Value {
	return Value{kind: KindUnsupported, sourceType: sourceType}
}

// Kind reports the variant of the value.
func (value Value) Kind() Kind {
	return value.kind
}

// Text returns the string payload.
func (value Value) Text() (string, bool) {
	return value.text, value.kind == KindString
}

// NumberValue returns the numeric payload.
func (value Value) NumberValue() (float64, bool) {
	return value.number, value.kind == KindNumber
}

// BoolValue returns the boolean payload.
func (value Value) BoolValue() (bool, bool) {
	return value.flag, value.kind == KindBool
}

// TypeName names the variant for diagnostics.
func (value Value) TypeName() string {
	switch value.kind {
	case KindString:
		return typeNameString
	case KindNumber:
		return typeNameNumber
	case KindBool:
		return typeNameBool
	default:
		if value.sourceType != "" {
			return value.sourceType
		}
		return typeNameUndefined
	}
}

// IsFalsy reports whether the value is false, zero, empty text or the text "0".
func (value Value) IsFalsy() bool {
	switch value.kind {
	case KindString:
		return value.text == "" || value.text == "0"
	case KindNumber:
		return value.number == 0
	case KindBool:
		return !value.flag
	default:
		return true
	}
}

// Token renders the value as a single command line argument.
func (value Value) Token() (string, bool) {
	switch value.kind {
	case KindString:
		return value.text, true
	case KindNumber:
		return strconv.FormatFloat(value.number, 'f', -1, 64), true
	case KindBool:
		if value.flag {
			return booleanTrueToken, true
		}
		return booleanFalseToken, true
	default:
		return "", false
	}
}

// String renders the value for logs.
func (value Value) String() string {
	if token, ok := value.Token(); ok {
		return token
	}
	return "<" + value.TypeName() + ">"
}
