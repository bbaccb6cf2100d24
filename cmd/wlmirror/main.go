package main

import "github.com/bryanchriswhite/wlmirror/cmd/wlmirror/commands"

func main() {
	commands.Execute()
}
