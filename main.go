// The main package for the runcalcs-crawler executable.
package main

import (
	"github.com/JakeFAU/runcalcs-crawler/cmd"
)

func main() {
	cmd.Execute()
}
