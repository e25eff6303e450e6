package main

import "client_go/internal/cmd"

func main() {
	cmd.Execute()
}
