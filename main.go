package main

import "mcphub/cmd"

func main() {
	cmd.Execute()
}
