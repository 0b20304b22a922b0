package main

import "uplift/cmd"

func main() {
	cmd.Execute()
}
