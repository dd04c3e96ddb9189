package main

import (
	"github.com/driftsync/hub/cmd/hub/cmd"
)

func main() {
	cmd.Execute()
}
