// Command codex runs the OpenAI Responses family proxy on port 3211.
package main

import (
	"clproxy/internal/bootstrap"
	"clproxy/internal/family"
)

func main() {
	bootstrap.Run(family.Codex, 3211)
}
