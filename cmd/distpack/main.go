package main

import "github.com/oshokin/distpack/cmd/distpack/cmd"

func main() {
	cmd.Execute()
}
