package config

import (
	"fmt"
	"io"
	"os"
)

var (
	stderr io.Writer = os.Stderr
	exit             = os.Exit
)

// Exitf reports a startup failure on stderr and exits with status 1.
func Exitf(format string, args ...any) {
	fmt.Fprintf(stderr, "babel.chat: "+format+"\n", args...)
	exit(1)
}
