package display

import (
	"strconv"

	"github.com/charmbracelet/bubbles/key"
)

// KeyMap defines the display's keybindings.
type KeyMap struct {
	Up      key.Binding
	Down    key.Binding
	Left    key.Binding
	Right   key.Binding
	Lock    key.Binding
	Overlay key.Binding
	Clear   key.Binding
	Help    key.Binding
	Quit    key.Binding

	Disconnect key.Binding
	Reconnect  key.Binding
	// Toggles switch outputs on and off; Toggles[i] belongs to the i-th feature passed to ToggleBindings.
	Toggles []key.Binding
}

// DefaultKeyMap returns the default keybindings.
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Up: key.NewBinding(
			key.WithKeys("up"),
			key.WithHelp("↑", "move up"),
		),
		Down: key.NewBinding(
			key.WithKeys("down"),
			key.WithHelp("↓", "move down"),
		),
		Left: key.NewBinding(
			key.WithKeys("left"),
			key.WithHelp("←", "move left"),
		),
		Right: key.NewBinding(
			key.WithKeys("right"),
			key.WithHelp("→", "move right"),
		),
		Lock: key.NewBinding(
			key.WithKeys("l"),
			key.WithHelp("l", "lock/unlock"),
		),
		Overlay: key.NewBinding(
			key.WithKeys("o"),
			key.WithHelp("o", "overlay"),
		),
		Clear: key.NewBinding(
			key.WithKeys("c"),
			key.WithHelp("c", "clear log"),
		),
		Help: key.NewBinding(
			key.WithKeys("?"),
			key.WithHelp("?", "help"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
		Disconnect: key.NewBinding(
			key.WithKeys("d"),
			key.WithHelp("d", "disconnect"),
		),
		Reconnect: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "reconnect"),
		),
	}
}

// ToggleBindings maps the digits 1-9 to features in order. Features past the ninth get no key.
func ToggleBindings(features []string) []key.Binding {
	out := make([]key.Binding, 0, len(features))
	for i, name := range features {
		if i == 9 {
			break
		}
		k := strconv.Itoa(i + 1)
		out = append(out, key.NewBinding(
			key.WithKeys(k),
			key.WithHelp(k, "toggle "+name),
		))
	}
	return out
}

// ShortHelp returns keybindings to show in the help view (horizontal).
func (k KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Disconnect, k.Reconnect, k.Lock, k.Overlay, k.Help, k.Quit}
}

// FullHelp returns keybindings for the expanded help view.
func (k KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Disconnect, k.Reconnect},
		k.Toggles,
		{k.Up, k.Down, k.Left, k.Right},
		{k.Lock, k.Overlay, k.Clear, k.Help, k.Quit},
	}
}
