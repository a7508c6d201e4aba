package main

import "github.com/rockbotlabs/rockbot/cmd"

func main() {
	cmd.Execute()
}
