// Command legacy runs the OpenAI Chat Completions family proxy on port 3212.
package main

import (
	"clproxy/internal/bootstrap"
	"clproxy/internal/family"
)

func main() {
	bootstrap.Run(family.Legacy, 3212)
}
