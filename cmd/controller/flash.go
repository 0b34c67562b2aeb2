package main

import (
	"fmt"
	"os"
)

// filePage is the params.Page implementation used on every build: one
// file standing in for "the last erase page of internal flash" (§6.3).
// There is no retrieved reference for a raw on-chip flash driver (the
// teacher's storage concerns are all SD-card files), so a file is the
// closest equivalent a hosted build can offer; a real MCU port swaps
// this for a direct flash-register page erase/write.
type filePage struct {
	path string
}

func newFilePage(path string) *filePage {
	return &filePage{path: path}
}

func (p *filePage) Read() ([]byte, error) {
	data, err := os.ReadFile(p.path)
	if os.IsNotExist(err) {
		// Erased flash reads as all-0xFF.
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("flash: read: %w", err)
	}
	return data, nil
}

func (p *filePage) Erase() error {
	return nil
}

func (p *filePage) Write(data []byte) error {
	if err := os.WriteFile(p.path, data, 0o600); err != nil {
		return fmt.Errorf("flash: write: %w", err)
	}
	return nil
}
