package main

import "github.com/jcastillo/ticketero/cmd"

func main() {
	cmd.Execute()
}
