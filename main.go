package main

import (
	"github.com/gitpod-io/satchel/cmd"
)

func main() {
	cmd.Execute()
}
