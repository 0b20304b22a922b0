package intake

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPolicyMatch(t *testing.T) {
	tests := []struct {
		name     string
		spec     string
		fileName string
		mimeType string
		want     bool
	}{
		{"empty policy accepts everything", "", "report.pdf", "application/pdf", true},
		{"extension match", ".png", "photo.png", "image/png", true},
		{"extension match is case-insensitive", ".png", "PHOTO.PNG", "image/png", true},
		{"extension mismatch", ".png", "report.pdf", "application/pdf", false},
		{"mime wildcard match", "image/*", "photo.png", "image/png", true},
		{"mime wildcard mismatch", "image/*", "report.pdf", "application/pdf", false},
		{"mime wildcard needs a declared type", "image/*", "photo.png", "", false},
		{"exact mime match", "application/pdf", "report.pdf", "application/pdf", true},
		{"exact name match", "Makefile", "Makefile", "", true},
		{"comma separated list", ".png,.jpg", "photo.jpg", "image/jpeg", true},
		{"pipe separated list", ".png|image/*", "scan.jpeg", "image/jpeg", true},
		{"list with no match", ".png|.gif", "report.pdf", "application/pdf", false},
		{"whitespace around patterns", " .png , .jpg ", "photo.jpg", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := CompilePolicy(tt.spec)
			assert.Equal(t, tt.want, p.Match(tt.fileName, tt.mimeType))
		})
	}
}

func TestCompilePolicyEmpty(t *testing.T) {
	assert.True(t, CompilePolicy("").Empty())
	assert.True(t, CompilePolicy(" , | ").Empty())
	assert.False(t, CompilePolicy(".png").Empty())
}
