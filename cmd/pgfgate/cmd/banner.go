package cmd

import (
	"fmt"
)

const banner = `
             __             _
  _ __  __ _/ _| __ _  __ _| |_ ___
 | '_ \/ _` + "`" + ` | |_ / _` + "`" + ` |/ _` + "`" + ` | __/ _ \
 | |_) | (_| |  _| (_| | (_| | ||  __/
 | .__/ \__, |_|  \__, |\__,_|\__\___|
 |_|    |___/     |___/
`

func printBanner() {
	fmt.Printf("\x1b[34m%s\x1b[0m", banner)
	fmt.Printf("\x1b[32m  Fleet Console Session Gateway - Version %s\x1b[0m\n\n", Version)
}
