package main

import "github.com/kamusis/folio/cmd"

func main() {
	cmd.Execute()
}
