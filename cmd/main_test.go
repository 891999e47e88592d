package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivanvanderbyl/epson-projector/pkg/entries"
	"github.com/ivanvanderbyl/epson-projector/pkg/epson"
)

func TestFinishFlowCreatesEntry(t *testing.T) {
	a := assert.New(t)

	path := filepath.Join(t.TempDir(), "entries.yaml")
	store := entries.NewStore(path)

	res := epson.FlowResult{
		Type:     epson.ResultTypeCreateEntry,
		Title:    "Lounge",
		UniqueID: "ABC123",
		Source:   entries.SourceUser,
		Data:     entries.Data{Host: "10.0.0.5", Name: "Lounge"},
	}
	require.NoError(t, finishFlow(store, res))

	reloaded := entries.NewStore(path)
	require.NoError(t, reloaded.Load())
	list := reloaded.List(epson.Domain)
	require.Len(t, list, 1)
	a.Equal("ABC123", list[0].UniqueID)
	a.Equal("10.0.0.5", list[0].Data.Host)

	a.Error(finishFlow(store, res), "duplicate unique IDs are rejected by the store")
}

func TestFinishFlowFailures(t *testing.T) {
	a := assert.New(t)
	store := entries.NewStore("")

	err := finishFlow(store, epson.FlowResult{Type: epson.ResultTypeAbort, Reason: epson.AbortAlreadyConfigured})
	a.EqualError(err, "already_configured")

	err = finishFlow(store, epson.FlowResult{
		Type:   epson.ResultTypeForm,
		Errors: map[string]string{"base": "cannot_connect", "host": "required"},
	})
	a.EqualError(err, "setup failed: base=cannot_connect, host=required")
	a.Empty(store.List(""))
}

func TestFormatPower(t *testing.T) {
	a := assert.New(t)

	a.Equal("On", formatPower("01"))
	a.Equal("Off (04)", formatPower("04"))
	a.Equal("Warming up", formatPower("02"))
	a.Equal("unknown", formatPower(""))
	a.Equal("unavailable", formatPower("unavailable"))
}
