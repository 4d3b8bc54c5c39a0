package main

import "github.com/BioHazard786/Lockstep/cmd"

func main() {
	cmd.Execute()
}
