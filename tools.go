//go:build tools
// +build tools

// This file pins tool dependencies used during development. Nothing
// here is imported by the service itself.

package sett

import (
	_ "golang.org/x/tools/cmd/goimports"
)
