package main

import "rootbox/internal/rootbox"

func main() {
	rootbox.Main()
}
