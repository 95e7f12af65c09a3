package ui

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/citeloom/citeloom/internal/ingest"
)

func TestRenderSummary_Table(t *testing.T) {
	out := RenderSummary(&ingest.Summary{
		DocumentsProcessed: 12,
		DocumentsSkipped:   3,
		DocumentsFailed:    1,
		ChunksWritten:      482,
		Duration:           64 * time.Second,
	}, NoColorStyles())

	assert.Contains(t, out, "Ingestion Summary")
	assert.Contains(t, out, "Documents Processed")
	assert.Contains(t, out, "12")
	assert.Contains(t, out, "Chunks Created")
	assert.Contains(t, out, "482")
	assert.Contains(t, out, "1m4s")
	assert.NotContains(t, out, "Warnings (")
	assert.NotContains(t, out, "Errors (")
}

func TestRenderSummary_PanelsWithOverflow(t *testing.T) {
	summary := &ingest.Summary{DocumentsProcessed: 1}
	for i := 0; i < 13; i++ {
		summary.Warnings = append(summary.Warnings, fmt.Sprintf("warning %d", i))
	}
	summary.Errors = []string{"doc.pdf: conversion failed"}

	out := RenderSummary(summary, NoColorStyles())

	assert.Contains(t, out, "Warnings (13)")
	assert.Contains(t, out, "warning 0")
	assert.Contains(t, out, "warning 9")
	assert.NotContains(t, out, "warning 10")
	assert.Contains(t, out, "and 3 more")
	assert.Contains(t, out, "Errors (1)")
	assert.Contains(t, out, "doc.pdf: conversion failed")
}

func TestRenderSummary_SubSecondDuration(t *testing.T) {
	out := RenderSummary(&ingest.Summary{Duration: 250 * time.Millisecond}, NoColorStyles())
	assert.Contains(t, out, "250ms")
}

func TestWriter_PlainOutput(t *testing.T) {
	var buf strings.Builder
	w := NewWriter(&buf, true)
	w.Successf("stored %d chunks", 42)
	w.Warningf("slow download")
	w.Errorf("conversion failed")
	w.Infof("resuming run")
	w.Plainf("correlation-id")

	out := buf.String()
	assert.Contains(t, out, "✓ stored 42 chunks")
	assert.Contains(t, out, "⚠ slow download")
	assert.Contains(t, out, "✗ conversion failed")
	assert.Contains(t, out, "→ resuming run")
	assert.True(t, strings.HasSuffix(out, "correlation-id\n"))
}

func TestIsTTY_NonFileWriter(t *testing.T) {
	var buf strings.Builder
	assert.False(t, IsTTY(&buf))
}
