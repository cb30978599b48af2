// Package clipboard provides access to the system clipboard.
package clipboard

import (
	"fmt"

	"github.com/atotto/clipboard"
)

const copyFailureFormat = "copy formatted output to clipboard: %w"

// Copier copies textual data to the system clipboard.
type Copier interface {
	Copy(text string) error
}

// Service implements Copier using github.com/atotto/clipboard.
// It also satisfies formatter.Sink so formatted output can be routed to the clipboard.
type Service struct {
	writeAll func(string) error
}

// NewService constructs a Clipboard service implementation.
func NewService() *Service {
	return &Service{writeAll: clipboard.WriteAll}
}

// Copy writes text to the system clipboard.
func (service *Service) Copy(text string) error {
	if writeErr := service.writeAll(text); writeErr != nil {
		return fmt.Errorf(copyFailureFormat, writeErr)
	}
	return nil
}

// Apply copies formatted text to the clipboard.
func (service *Service) Apply(text string) error {
	return service.Copy(text)
}

var _ Copier = (*Service)(nil)
