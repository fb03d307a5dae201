package sink

import (
	"fmt"
	"io"
	"log"
	"math"
	"strings"
	"time"

	"github.com/adrianmo/go-nmea"
	"github.com/jacobsa/go-serial/serial"

	"github.com/relabs-tech/ahrs_computer/internal/fusion"
)

// DefaultNMEAInterval keeps a 4800 baud link below saturation.
const DefaultNMEAInterval = 200 * time.Millisecond

// NMEA writes the estimate as NMEA-0183 sentences for chart plotters and
// autopilots:
//
//	$<talker>HDT,<heading>,T*hh
//	$<talker>XDR,A,<pitch>,D,PITCH,A,<roll>,D,ROLL*hh
type NMEA struct {
	w        io.Writer
	closer   io.Closer
	talker   string
	interval time.Duration
	last     time.Time
}

// NewNMEA writes to w at most once per interval of estimate time.
func NewNMEA(w io.Writer, talker string, interval time.Duration) *NMEA {
	return &NMEA{w: w, talker: strings.ToUpper(talker), interval: interval}
}

// OpenNMEASerial opens a serial port for NMEA output.
func OpenNMEASerial(portName string, baud int, talker string) (*NMEA, error) {
	opts := serial.OpenOptions{
		PortName:        portName,
		BaudRate:        uint(baud),
		DataBits:        8,
		StopBits:        1,
		MinimumReadSize: 1,
		ParityMode:      serial.PARITY_NONE,
	}
	port, err := serial.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("nmea: open %s: %w", portName, err)
	}
	log.Printf("nmea: serial port opened on %s at %d baud", portName, baud)

	n := NewNMEA(port, talker, DefaultNMEAInterval)
	n.closer = port
	return n, nil
}

// Sentence frames body as "$body*hh\r\n".
func Sentence(body string) string {
	return "$" + body + "*" + nmea.Checksum(body) + "\r\n"
}

func (n *NMEA) Publish(e fusion.Estimate) error {
	if !n.last.IsZero() && e.T.Sub(n.last) < n.interval {
		return nil
	}
	n.last = e.T

	heading := math.Round(e.Heading*10) / 10
	if heading >= 360 {
		heading -= 360
	}

	out := Sentence(fmt.Sprintf("%sHDT,%.1f,T", n.talker, heading)) +
		Sentence(fmt.Sprintf("%sXDR,A,%.1f,D,PITCH,A,%.1f,D,ROLL", n.talker, e.Pose.Pitch, e.Pose.Roll))
	if _, err := io.WriteString(n.w, out); err != nil {
		return fmt.Errorf("nmea: write: %w", err)
	}
	return nil
}

func (n *NMEA) Close() error {
	if n.closer != nil {
		return n.closer.Close()
	}
	return nil
}
