package main

import "github.com/camerafleet/orchestrator/cmd"

func main() {
	cmd.Execute()
}
