// Package dynamic derives tidy options from the content of the document being formatted.
package dynamic

import (
	"strings"

	"github.com/temirov/htmltidy/internal/options"
)

const (
	// BlockLevelTagsKey is emitted when no block-level tag option exists yet.
	BlockLevelTagsKey = "newBlocklevelTags"
	// ShowBodyOnlyKey controls whether tidy omits the html/body wrapper.
	ShowBodyOnlyKey = "showBodyOnly"
	// ShowErrorsKey controls how many errors tidy reports.
	ShowErrorsKey = "showErrors"
	// DefaultShowErrors is the verbosity applied when none was requested.
	DefaultShowErrors = 6

	blockLevelTagsFlag = "new-blocklevel-tags"
	showErrorsFlag     = "show-errors"

	tagOpeningDelimiter = "<"
	bodyTagMarker       = "<body"
	closingTagMarker    = '/'
	declarationMarker   = '!'
	tagNameTerminators  = " \t\r\n\f\v>/"
	customElementMarker = '-'
	tagSeparator        = " "
)

// Settings gates each derivation pass.
type Settings struct {
	EnableDynamicTags bool
	EnableDynamicBody bool
	ShowErrors        bool
}

// Derive inspects text and returns the options to merge over existing.
// The returned block-level tag value already contains the existing tags, so
// merging is a plain override. Tags already listed are not appended twice.
func Derive(text string, existing *options.Set, settings Settings) *options.Set {
	derived := options.NewSet()
	if settings.EnableDynamicTags {
		deriveBlockLevelTags(text, existing, derived)
	}
	if settings.EnableDynamicBody {
		derived.Put(ShowBodyOnlyKey, options.Bool(!strings.Contains(text, bodyTagMarker)))
	}
	if settings.ShowErrors {
		deriveShowErrors(existing, derived)
	}
	return derived
}

// Apply returns a copy of existing with the derived options merged on top.
func Apply(text string, existing *options.Set, settings Settings) *options.Set {
	return existing.Merge(Derive(text, existing, settings))
}

// CustomElementNames lists hyphenated opening tag names in first-seen order.
func CustomElementNames(text string) []string {
	seen := map[string]struct{}{}
	var names []string
	for _, fragment := range strings.Split(text, tagOpeningDelimiter) {
		trimmed := strings.TrimSpace(fragment)
		if trimmed == "" || trimmed[0] == closingTagMarker || trimmed[0] == declarationMarker {
			continue
		}
		name := trimmed
		if terminatorIndex := strings.IndexAny(trimmed, tagNameTerminators); terminatorIndex >= 0 {
			name = trimmed[:terminatorIndex]
		}
		if strings.IndexByte(name, customElementMarker) <= 0 {
			continue
		}
		if _, duplicate := seen[name]; duplicate {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	return names
}

func deriveBlockLevelTags(text string, existing *options.Set, derived *options.Set) {
	key := BlockLevelTagsKey
	existingTags := ""
	if existingKey, existingValue, found := existing.FindFlag(blockLevelTagsFlag); found {
		key = existingKey
		if token, supported := existingValue.Token(); supported {
			existingTags = strings.TrimSpace(token)
		}
	}

	known := map[string]struct{}{}
	for _, tag := range strings.Fields(strings.ReplaceAll(existingTags, ",", " ")) {
		known[tag] = struct{}{}
	}
	var additions []string
	for _, name := range CustomElementNames(text) {
		if _, listed := known[name]; listed {
			continue
		}
		additions = append(additions, name)
	}

	combined := strings.Join(additions, tagSeparator)
	if existingTags != "" {
		combined = strings.TrimSpace(existingTags + tagSeparator + combined)
	}
	if combined == "" {
		return
	}
	derived.Put(key, options.String(combined))
}

func deriveShowErrors(existing *options.Set, derived *options.Set) {
	key := ShowErrorsKey
	if existingKey, existingValue, found := existing.FindFlag(showErrorsFlag); found {
		if !existingValue.IsFalsy() {
			return
		}
		key = existingKey
	}
	derived.Put(key, options.Int(DefaultShowErrors))
}
