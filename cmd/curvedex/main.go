package main

import (
	"github.com/shizukutanaka/curvedex/cmd/curvedex/commands"
)

func main() {
	commands.Execute()
}
