// Package main wires together the chimerad service binary.
package main

import (
	"os"

	"github.com/voxleads/chimera/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
