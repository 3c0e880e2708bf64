package main

import "github.com/charleschow/chess-tv/internal/process"

func main() {
	process.Run()
}
