package main

import "actorbridge/cmd"

func main() {
	cmd.Execute()
}
