// The main package for the catalog executable.
package main

import "github.com/JakeFAU/tcg-catalog-crawler/cmd"

func main() {
	cmd.Execute()
}
