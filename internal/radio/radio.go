// Package radio carries packet payloads between hive sensors and the base
// station. Payloads are opaque byte slices; their layout belongs to the
// packet package.
package radio

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
)

// ErrClosed is returned by operations on a closed link.
var ErrClosed = errors.New("radio: link closed")

// Frame is one received payload.
type Frame struct {
	Payload    []byte
	ReceivedAt time.Time
}

// Transceiver sends and receives whole payloads. Receive blocks until a frame
// arrives or ctx is done.
type Transceiver interface {
	Transmit(ctx context.Context, payload []byte) error
	Receive(ctx context.Context) (Frame, error)
	Close() error
}

// ChannelPlan is the LoRa channel configuration. Sender and receiver must use
// the same plan; there is no negotiation.
type ChannelPlan struct {
	FrequencyHz     int64
	SpreadingFactor int
	BandwidthHz     int64
	CodingRate      int // 4/CodingRate
}

// String renders the plan for logs, e.g. "915 MHz SF10 BW125 kHz CR4/5".
func (p ChannelPlan) String() string {
	f, fu := humanize.ComputeSI(float64(p.FrequencyHz))
	b, bu := humanize.ComputeSI(float64(p.BandwidthHz))
	return fmt.Sprintf("%s %sHz SF%d BW%s %sHz CR4/%d",
		humanize.Ftoa(f), fu, p.SpreadingFactor, humanize.Ftoa(b), bu, p.CodingRate)
}

// Validate rejects plans no LoRa modem accepts.
func (p ChannelPlan) Validate() error {
	switch {
	case p.FrequencyHz <= 0:
		return fmt.Errorf("radio: invalid frequency %d", p.FrequencyHz)
	case p.SpreadingFactor < 7 || p.SpreadingFactor > 12:
		return fmt.Errorf("radio: spreading factor %d outside 7..12", p.SpreadingFactor)
	case p.BandwidthHz <= 0:
		return fmt.Errorf("radio: invalid bandwidth %d", p.BandwidthHz)
	case p.CodingRate < 5 || p.CodingRate > 8:
		return fmt.Errorf("radio: coding rate 4/%d outside 4/5..4/8", p.CodingRate)
	}
	return nil
}

// Topic derives the bridge topic for this plan. Nodes on different plans use
// different topics and so never hear each other.
func (p ChannelPlan) Topic(prefix string) string {
	return fmt.Sprintf("%s/%d/sf%d/bw%d/cr%d", prefix, p.FrequencyHz, p.SpreadingFactor, p.BandwidthHz, p.CodingRate)
}

func copyPayload(b []byte) []byte {
	return append([]byte(nil), b...)
}
