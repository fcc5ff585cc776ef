// Command claude runs the Anthropic Messages family proxy on port 3210.
package main

import (
	"clproxy/internal/bootstrap"
	"clproxy/internal/family"
)

func main() {
	bootstrap.Run(family.Claude, 3210)
}
