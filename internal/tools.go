//go:build tools

// Package tools pins build-time and test dependencies so they appear in go.mod.
package tools

import (
	_ "github.com/stretchr/testify/require"
	_ "pgregory.net/rapid"
)
