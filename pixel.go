package main

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
)

//go:embed pixel.png
var transparentPixel []byte

var pngSignature = []byte("\x89PNG\r\n\x1a\n")

// loadPixel returns the image served by the view endpoint: the file at path
// when set, otherwise the built-in 1x1 transparent PNG.
func loadPixel(path string) ([]byte, error) {
	if path == "" {
		return transparentPixel, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading pixel %s: %w", path, err)
	}

	if !bytes.HasPrefix(data, pngSignature) {
		return nil, errors.New("pixel file is not a PNG image")
	}

	return data, nil
}
