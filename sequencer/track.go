package sequencer

// Track describes one part of a song. Notes reference it by index.
type Track struct {
	Name    string `json:"name"`
	Channel uint8  `json:"channel"` // MIDI output channel (0-15)
	Notes   int    `json:"notes"`
	Muted   bool   `json:"muted"`
}

// Song is a loaded piece: its tracks and the flattened note list.
type Song struct {
	Name   string  `json:"name"`
	Tracks []Track `json:"tracks"`
	Notes  []Note  `json:"notes"`
}

// NewTrack creates a track with the given name and MIDI channel.
func NewTrack(name string, channel uint8) Track {
	return Track{Name: name, Channel: channel & 0x0F}
}

// Duration returns the time the last note ends.
func (s *Song) Duration() float64 {
	var end float64
	for _, n := range s.Notes {
		if off := n.Off(); off > end {
			end = off
		}
	}
	return end
}
