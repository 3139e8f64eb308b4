// Copyright © 2026 the aemstarter authors
// SPDX-License-Identifier: Apache-2.0

// aemstarter manages a local AEM development stack: author, publish,
// dispatcher and an optional TLS front proxy.
package main

import (
	"os"

	"github.com/dfoerderreuther/aemstarter/internal/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
