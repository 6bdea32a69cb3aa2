package main

import (
	"os"

	"github.com/julienstroheker/relaycat/client/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
