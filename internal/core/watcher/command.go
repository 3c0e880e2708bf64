package watcher

import "github.com/charleschow/chess-tv/internal/events"

// Command is an instruction for the watcher loop that never leaves the
// process.
type Command interface {
	command()
}

// ReplaceGame asks the loop to swap a finished game for a fresh one.
type ReplaceGame struct {
	ID events.GameID
}

func (ReplaceGame) command() {}
