// Command imageintact runs integrity-verified, multi-destination backups.
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kingpin/v2"
)

func main() {
	app := kingpin.New("imageintact", "Integrity-verified, multi-destination photo/video backup.")

	c := newApp()
	c.setup(app)

	kingpin.MustParse(app.Parse(os.Args[1:]))

	if c.stopProfile != nil {
		_ = c.stopProfile()
	}

	if c.exitErr != nil {
		fmt.Fprintln(os.Stderr, c.exitErr)
		os.Exit(1)
	}
}
