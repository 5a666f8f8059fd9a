package main

import "github.com/jesspig/micro-agent/cmd"

func main() {
	cmd.Execute()
}
