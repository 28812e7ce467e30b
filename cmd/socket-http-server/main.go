package main

import "github.com/jferg368/socket-http-server/cmd/socket-http-server/cmd"

func main() {
	cmd.Execute()
}
