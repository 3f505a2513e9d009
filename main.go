package main

import "github.com/nsxzhou1114/bloodlink-api/cmd"

func main() {
	cmd.Execute()
}
