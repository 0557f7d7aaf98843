// Command evalpipe is a smoke-testing harness for the precache and writer
// engines (§10.5); it is demonstration scaffolding, not part of the core
// library.
package main

import "github.com/evalpipe/evalpipe/cmd/evalpipe/cmd"

func main() {
	cmd.Execute()
}
