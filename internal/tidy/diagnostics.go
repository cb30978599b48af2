package tidy

import (
	"regexp"
	"strconv"
	"strings"
)

// Severity levels reported by tidy diagnostics.
const (
	SeverityWarning = "Warning"
	SeverityError   = "Error"
)

var diagnosticPattern = regexp.MustCompile(`line (\d+) column (\d+) - (Warning|Error): (.+)`)

// Message is a single positioned diagnostic. Line and Column are 1-based.
type Message struct {
	Line     int    `json:"line"`
	Column   int    `json:"column"`
	Severity string `json:"severity"`
	Text     string `json:"text"`
}

// ParseDiagnostics extracts positioned messages from tidy's diagnostic output.
func ParseDiagnostics(diagnostics string) []Message {
	var messages []Message
	for _, match := range diagnosticPattern.FindAllStringSubmatch(diagnostics, -1) {
		line, lineErr := strconv.Atoi(match[1])
		column, columnErr := strconv.Atoi(match[2])
		if lineErr != nil || columnErr != nil {
			continue
		}
		messages = append(messages, Message{
			Line:     line,
			Column:   column,
			Severity: match[3],
			Text:     strings.TrimRight(match[4], "\r"),
		})
	}
	return messages
}
