package report

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderPDF(t *testing.T) {
	fonts := fontsOrSkip(t)
	rep := &Report{
		ID:        uuid.New(),
		Title:     "Quarterly review",
		Content:   "Executive Summary\n\n" + strings.Repeat("The patient reports steady progress. ", 400),
		CreatedAt: time.Now(),
	}

	data, err := RenderPDF(rep, fonts)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("%PDF")))
}

func TestRenderPDF_NoFont(t *testing.T) {
	_, err := RenderPDF(&Report{Title: "x"}, []string{"/nonexistent/font.ttf"})
	assert.Error(t, err)
}
