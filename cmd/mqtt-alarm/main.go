package main

import "github.com/oshokin/mqtt-alarm/cmd/mqtt-alarm/cmd"

func main() {
	cmd.Execute()
}
