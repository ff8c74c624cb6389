// The main package for the patentcrawler executable.
package main

import (
	"github.com/JakeFAU/patent-crawler/cmd"
)

func main() {
	cmd.Execute()
}
