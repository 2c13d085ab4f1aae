/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package main

import "briefbot/cmd"

func main() {
	cmd.Execute()
}
