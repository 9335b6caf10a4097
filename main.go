package main

import (
	"os"

	"github.com/webitel/relay-service/cmd"
)

func main() {
	os.Exit(cmd.Run())
}
