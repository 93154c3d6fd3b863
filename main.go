package main

import "github.com/ValentinKolb/dBucket/cmd"

func main() {
	cmd.Execute()
}
