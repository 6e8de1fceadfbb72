package model

import (
	"fmt"
	"math"
)

const (
	// DefaultChannels is the number of slots on the fixed grid.
	DefaultChannels = 96
	// ChannelWidthGHz is the spectral width of every slot.
	ChannelWidthGHz = 40

	firstChannelGHz   = 196100
	channelSpacingGHz = 50
)

// WavelengthSlot is a grid index together with its derived center frequency
// (THz) and width (GHz).
type WavelengthSlot struct {
	Index     int     `json:"index"`
	Frequency float64 `json:"frequency"`
	Width     int     `json:"width"`
}

// Grid is the fixed 50 GHz wavelength grid. Index 1 is 196.1 THz and each
// following index is 50 GHz lower.
type Grid struct {
	channels int
}

// NewGrid returns a grid with the given number of channels, falling back to
// DefaultChannels when channels is not positive.
func NewGrid(channels int) Grid {
	if channels <= 0 {
		channels = DefaultChannels
	}
	return Grid{channels: channels}
}

// Channels returns the number of slots on the grid.
func (g Grid) Channels() int {
	if g.channels == 0 {
		return DefaultChannels
	}
	return g.channels
}

// Valid reports whether index is on the grid.
func (g Grid) Valid(index int) bool {
	return index >= 1 && index <= g.Channels()
}

// Slot returns the slot descriptor for index.
func (g Grid) Slot(index int) (WavelengthSlot, error) {
	if !g.Valid(index) {
		return WavelengthSlot{}, fmt.Errorf("%w: wavelength %d outside grid [1,%d]", ErrValidation, index, g.Channels())
	}
	return WavelengthSlot{
		Index:     index,
		Frequency: FrequencyTHz(index),
		Width:     ChannelWidthGHz,
	}, nil
}

// Indices returns every grid index in ascending order.
func (g Grid) Indices() []int {
	out := make([]int, g.Channels())
	for i := range out {
		out[i] = i + 1
	}
	return out
}

// IndexForFrequency maps a center frequency in THz back to its grid index.
func (g Grid) IndexForFrequency(thz float64) (int, error) {
	ghz := math.Round(thz * 1000)
	offset := float64(firstChannelGHz) - ghz
	if math.Mod(offset, channelSpacingGHz) != 0 {
		return 0, fmt.Errorf("%w: frequency %.3f THz is not on the 50 GHz grid", ErrValidation, thz)
	}
	index := int(offset/channelSpacingGHz) + 1
	if !g.Valid(index) {
		return 0, fmt.Errorf("%w: frequency %.3f THz outside grid", ErrValidation, thz)
	}
	return index, nil
}

// FrequencyTHz returns the center frequency of a grid index in THz.
func FrequencyTHz(index int) float64 {
	return float64(firstChannelGHz-channelSpacingGHz*(index-1)) / 1000
}
