package tui

import (
	"github.com/charmbracelet/bubbles/key"
)

func Key(help string, keyboardKey ...string) key.Binding {
	return key.NewBinding(key.WithKeys(keyboardKey...), key.WithHelp(keyboardKey[0], help))
}

type keyMap struct {
	Beat      key.Binding
	Play      key.Binding
	Stop      key.Binding
	TempoUp   key.Binding
	TempoDown key.Binding
	Back      key.Binding
	Forward   key.Binding
	Reset     key.Binding
	Mute      key.Binding
	Panic     key.Binding
	Help      key.Binding
	Quit      key.Binding
}

var keys = keyMap{
	Beat:      Key("beat", " ", "space"),
	Play:      Key("play/pause", "p"),
	Stop:      Key("stop", "s"),
	TempoUp:   Key("tempo +5", "+", "="),
	TempoDown: Key("tempo -5", "-", "_"),
	Back:      Key("back 5s", "left", "h"),
	Forward:   Key("ahead 5s", "right", "l"),
	Reset:     Key("reset", "r"),
	Mute: key.NewBinding(
		key.WithKeys("1", "2", "3", "4", "5", "6", "7", "8", "9"),
		key.WithHelp("1-9", "mute track")),
	Panic: Key("all notes off", "!"),
	Help:  Key("help", "?"),
	Quit:  Key("quit", "q", "ctrl+c"),
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Beat, k.Play, k.TempoUp, k.TempoDown, k.Help, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Beat, k.Play, k.Stop, k.Reset},
		{k.TempoUp, k.TempoDown, k.Back, k.Forward},
		{k.Mute, k.Panic, k.Help, k.Quit},
	}
}
