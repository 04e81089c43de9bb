package main

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/zerebubuth/openstreetmap-cgimap-sub000/internal/upload"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warn"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("info"))
	assert.Equal(t, slog.LevelInfo, parseLevel("bogus"))
}

func TestParseContentType(t *testing.T) {
	assert.Equal(t, upload.ContentTypeJSON, parseContentType("json"))
	assert.Equal(t, upload.ContentTypeJSON, parseContentType("application/json"))
	assert.Equal(t, upload.ContentTypeXML, parseContentType("xml"))
	assert.Equal(t, upload.ContentTypeXML, parseContentType("bogus"))
}

func TestNewRootCmdRegistersSubcommands(t *testing.T) {
	root := newRootCmd()
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["serve"])
	assert.True(t, names["upload"])
	assert.True(t, names["migrate"])
}
