package main

import "eino_session_agent/cmd"

func main() {
	cmd.Execute()
}
