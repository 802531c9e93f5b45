package main

import "github.com/strata-db/strata/cmd"

func main() {
	cmd.Execute()
}
