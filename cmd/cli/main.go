package main

import "twinbridge/cmd/cli/command"

func main() {
	command.Execute()
}
