package main

import "github.com/nextlevelbuilder/sovereignclaw/cmd"

func main() {
	cmd.Execute()
}
