package main

import (
	"fmt"

	"github.com/imghub/imghub/internal/version"
)

func printVersion() {
	fmt.Fprintln(stdOut, version.Full())
}
