package main

import (
	"os"

	"github.com/ai-help-me/sftpdeck/pkg/cli"
)

func main() {
	os.Exit(cli.Execute())
}
