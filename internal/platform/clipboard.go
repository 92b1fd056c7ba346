// Package platform adapts the host desktop to the capture capabilities.
package platform

import (
	"fmt"

	"github.com/atotto/clipboard"
)

// SystemClipboard is the host clipboard as seen through atotto/clipboard.
type SystemClipboard struct{}

func (SystemClipboard) ReadText() (string, error) {
	text, err := clipboard.ReadAll()
	if err != nil {
		return "", fmt.Errorf("read clipboard: %w", err)
	}
	return text, nil
}

func (SystemClipboard) WriteText(text string) error {
	if err := clipboard.WriteAll(text); err != nil {
		return fmt.Errorf("write clipboard: %w", err)
	}
	return nil
}

