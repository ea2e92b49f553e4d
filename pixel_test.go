package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadPixel_Embedded(t *testing.T) {
	pixel, err := loadPixel("")
	require.NoError(t, err)

	assert.Equal(t, pngSignature, pixel[:len(pngSignature)])
}

func TestLoadPixel_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.png")
	content := append(append([]byte{}, pngSignature...), 0x00, 0x01)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	pixel, err := loadPixel(path)
	require.NoError(t, err)

	assert.Equal(t, content, pixel)
}

func TestLoadPixel_Failures(t *testing.T) {
	dir := t.TempDir()
	notPNG := filepath.Join(dir, "pixel.gif")
	require.NoError(t, os.WriteFile(notPNG, []byte("GIF89a"), 0o600))

	_, err := loadPixel(notPNG)
	assert.ErrorContains(t, err, "not a PNG")

	_, err = loadPixel(filepath.Join(dir, "missing.png"))
	assert.ErrorContains(t, err, "reading pixel")
}
