package main

import "github.com/pgf-fleet/pgfgate/cmd/pgfgate/cmd"

func main() {
	cmd.Execute()
}
