package main

import (
	"os"

	"github.com/conneroisu/invisible-recaptcha/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
