package main

import "github.com/exepirit/radiobridge/cmd/radiobridge/command"

func main() {
	command.Execute()
}
