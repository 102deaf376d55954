package main

import "github.com/minerofthesoal/ai-cli/cmd"

func main() {
	cmd.Execute()
}
