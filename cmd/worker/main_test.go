package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-bankrec/internal/app"
	"github.com/odyssey-erp/odyssey-bankrec/internal/testing/guard"
)

func TestMainSkipsStartupInTestMode(t *testing.T) {
	t.Setenv(guard.Env, "1")
	app.RefreshTestMode()
	require.True(t, app.InTestMode())

	require.NotPanics(t, main)
}
