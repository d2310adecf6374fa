package main

import "github.com/bryanchriswhite/garp/cmd/garp/commands"

func main() {
	commands.Execute()
}
