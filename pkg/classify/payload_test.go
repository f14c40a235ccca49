package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}

func TestAdapt_PreservesDeclaredMediaType(t *testing.T) {
	p, err := Adapt(jpegHeader, "image/jpeg")
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", p.MediaType)
	assert.Equal(t, jpegHeader, p.Data)
	assert.Equal(t, "xray.jpg", p.Filename)

	// declared type wins over content
	p, err = Adapt(jpegHeader, "image/png")
	require.NoError(t, err)
	assert.Equal(t, "image/png", p.MediaType)
	assert.Equal(t, "xray.png", p.Filename)
}

func TestAdapt_SniffsMissingOrGenericType(t *testing.T) {
	for _, declared := range []string{"", "  ", "application/octet-stream"} {
		p, err := Adapt(pngHeader, declared)
		require.NoError(t, err, "declared %q", declared)
		assert.Equal(t, "image/png", p.MediaType)
	}
}

func TestAdapt_KeepsParameters(t *testing.T) {
	p, err := Adapt(jpegHeader, "IMAGE/JPEG; q=0.9")
	require.NoError(t, err)
	assert.Equal(t, "IMAGE/JPEG; q=0.9", p.MediaType)
	assert.Equal(t, "xray.jpg", p.Filename)
}

func TestAdapt_UnknownImageSubtype(t *testing.T) {
	p, err := Adapt(jpegHeader, "image/x-dicom-preview")
	require.NoError(t, err)
	assert.Equal(t, "xray.x-dicom-preview", p.Filename)
}

func TestAdapt_RejectsInvalidInput(t *testing.T) {
	tests := []struct {
		name      string
		data      []byte
		mediaType string
	}{
		{"nil", nil, "image/jpeg"},
		{"empty", []byte{}, ""},
		{"declared text", jpegHeader, "text/plain"},
		{"sniffed binary", []byte{0x00, 0x01, 0x02, 0x03}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Adapt(tt.data, tt.mediaType)
			assert.Nil(t, p)
			var invalid *InvalidInputError
			require.ErrorAs(t, err, &invalid)
		})
	}
}
