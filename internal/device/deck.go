// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package device

import (
	"image"
	"sync"

	"github.com/kortschak/ardilla"
)

// Deck is a grid of button displays. [*ardilla.Deck] satisfies Deck.
type Deck interface {
	// Layout returns the number of rows and columns
	// of buttons on the device.
	Layout() (rows, cols int)
	// Bounds returns the image bounds of a button.
	Bounds() (image.Rectangle, error)
	// SetImage renders img on the button at row and col.
	SetImage(row, col int, img image.Image) error
	// Reset clears all button images.
	Reset() error
	Close() error
}

var _ Deck = (*ardilla.Deck)(nil)

// OpenStreamDeck opens an El Gato Stream Deck. The pid and serial parameters
// are interpreted according to the documentation for [ardilla.NewDeck].
func OpenStreamDeck(pid ardilla.PID, serial string) (deck *ardilla.Deck, gotSerial string, err error) {
	deck, err = ardilla.NewDeck(pid, serial)
	if err != nil {
		return nil, "", err
	}
	if serial == "" {
		serial, err = deck.Serial()
		if err != nil {
			deck.Close()
			return nil, "", err
		}
	}
	return deck, serial, nil
}

// locked is a lock-protected [Deck].
type locked struct {
	mu   sync.Mutex
	deck Deck
}

func (d *locked) SetImage(row, col int, img image.Image) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.deck.SetImage(row, col, img)
}

func (d *locked) Reset() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.deck.Reset()
}

func (d *locked) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.deck.Close()
}
