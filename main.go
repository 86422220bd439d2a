package main

import "lasertrack/cmd"

func main() {
	cmd.Execute()
}
