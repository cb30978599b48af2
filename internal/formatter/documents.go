package formatter

import (
	"fmt"
	"io"
	"os"
	"strings"
)

const (
	readDocumentFailureFormat  = "read document %s: %w"
	writeDocumentFailureFormat = "write document %s: %w"
)

// TextDocument is an in-memory document snapshot.
type TextDocument struct {
	text string
	path string
}

// NewTextDocument returns a snapshot of text identified by path.
func NewTextDocument(text string, path string) TextDocument {
	return TextDocument{text: text, path: path}
}

// Text returns the snapshot text.
func (document TextDocument) Text() string {
	return document.text
}

// Path returns the document path.
func (document TextDocument) Path() string {
	return document.path
}

// ReadFileDocument loads a snapshot of the file at path.
func ReadFileDocument(path string) (TextDocument, error) {
	// #nosec G304
	content, readErr := os.ReadFile(path)
	if readErr != nil {
		return TextDocument{}, fmt.Errorf(readDocumentFailureFormat, path, readErr)
	}
	return NewTextDocument(string(content), path), nil
}

// FileSink writes formatted text back to a file, keeping its permissions.
type FileSink struct {
	Path string
}

// Apply replaces the file content.
func (sink FileSink) Apply(text string) error {
	permissions := os.FileMode(0o644)
	if fileInformation, statErr := os.Stat(sink.Path); statErr == nil {
		permissions = fileInformation.Mode().Perm()
	}
	if writeErr := os.WriteFile(sink.Path, []byte(text), permissions); writeErr != nil {
		return fmt.Errorf(writeDocumentFailureFormat, sink.Path, writeErr)
	}
	return nil
}

// WriterSink writes formatted text to an io.Writer.
type WriterSink struct {
	Writer io.Writer
}

// Apply writes the text.
func (sink WriterSink) Apply(text string) error {
	_, writeErr := io.WriteString(sink.Writer, text)
	return writeErr
}

// BufferSink keeps the last applied text.
type BufferSink struct {
	builder strings.Builder
	applied bool
}

// Apply stores the text, replacing anything stored before.
func (sink *BufferSink) Apply(text string) error {
	sink.builder.Reset()
	sink.builder.WriteString(text)
	sink.applied = true
	return nil
}

// Text returns the stored text and whether Apply was called.
func (sink *BufferSink) Text() (string, bool) {
	return sink.builder.String(), sink.applied
}
