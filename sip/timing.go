package sip

import (
	"encoding/json"
	"time"

	"braces.dev/errtrace"
)

// Base timer values of RFC 3261.
const (
	// T1 is the round-trip time estimate.
	T1 = 500 * time.Millisecond
	// T2 caps retransmit intervals of non-INVITE requests and INVITE responses.
	T2 = 4 * time.Second
	// T4 is the maximum duration a message remains in the network.
	T4 = 5 * time.Second
	// TimeD is the wait for response retransmits after ACK over unreliable transports.
	TimeD = 32 * time.Second
)

// TimingConfig holds the base timer values of a transaction layer.
// The zero value uses [T1], [T2], [T4] and [TimeD];
// the lettered timers of RFC 3261 and the RFC 3262 timers derive from them.
type TimingConfig struct {
	t1, t2, t4, timeD time.Duration
}

// NewTimings creates a timing config, zero arguments fall back to defaults.
func NewTimings(t1, t2, t4, timeD time.Duration) TimingConfig {
	return TimingConfig{t1, t2, t4, timeD}
}

func (c TimingConfig) T1() time.Duration {
	if c.t1 == 0 {
		return T1
	}
	return c.t1
}

func (c TimingConfig) T2() time.Duration {
	if c.t2 == 0 {
		return T2
	}
	return c.t2
}

func (c TimingConfig) T4() time.Duration {
	if c.t4 == 0 {
		return T4
	}
	return c.t4
}

// TimeA is the initial INVITE retransmit interval, equal to T1.
func (c TimingConfig) TimeA() time.Duration { return c.T1() }

// TimeB is the INVITE client transaction timeout, 64*T1.
func (c TimingConfig) TimeB() time.Duration { return 64 * c.T1() }

// TimeD is the wait for response retransmits after ACK.
func (c TimingConfig) TimeD() time.Duration {
	if c.timeD == 0 {
		return TimeD
	}
	return c.timeD
}

// TimeE is the initial non-INVITE retransmit interval, equal to T1.
func (c TimingConfig) TimeE() time.Duration { return c.T1() }

// TimeF is the non-INVITE client transaction timeout, 64*T1.
func (c TimingConfig) TimeF() time.Duration { return 64 * c.T1() }

// TimeG is the initial INVITE final response retransmit interval, equal to T1.
func (c TimingConfig) TimeG() time.Duration { return c.T1() }

// TimeH is the wait for ACK receipt, 64*T1.
func (c TimingConfig) TimeH() time.Duration { return 64 * c.T1() }

// TimeI is the wait for ACK retransmits, equal to T4.
func (c TimingConfig) TimeI() time.Duration { return c.T4() }

// TimeJ is the wait for non-INVITE request retransmits, 64*T1.
func (c TimingConfig) TimeJ() time.Duration { return 64 * c.T1() }

// TimeK is the wait for response retransmits on the client, equal to T4.
func (c TimingConfig) TimeK() time.Duration { return c.T4() }

// TimeL is the wait for retransmits of an INVITE answered by a proxied 2xx, 64*T1.
func (c TimingConfig) TimeL() time.Duration { return 64 * c.T1() }

// TimeM is the wait for retransmits of proxied 2xx responses, 64*T1.
func (c TimingConfig) TimeM() time.Duration { return 64 * c.T1() }

// TimeRel is the initial retransmit interval of a reliable provisional response, equal to T1.
func (c TimingConfig) TimeRel() time.Duration { return c.T1() }

// TimePrack is the wait for PRACK of a reliable provisional response, 64*T1.
func (c TimingConfig) TimePrack() time.Duration { return 64 * c.T1() }

func (c TimingConfig) IsZero() bool {
	return c.t1 == 0 && c.t2 == 0 && c.t4 == 0 && c.timeD == 0
}

type timingConfData struct {
	T1    time.Duration `json:"t1,omitempty"`
	T2    time.Duration `json:"t2,omitempty"`
	T4    time.Duration `json:"t4,omitempty"`
	TimeD time.Duration `json:"time_d,omitempty"`
}

func (c TimingConfig) MarshalJSON() ([]byte, error) {
	return errtrace.Wrap2(json.Marshal(timingConfData{c.t1, c.t2, c.t4, c.timeD}))
}

func (c *TimingConfig) UnmarshalJSON(data []byte) error {
	var d timingConfData
	if err := json.Unmarshal(data, &d); err != nil {
		return errtrace.Wrap(err)
	}
	*c = TimingConfig{d.T1, d.T2, d.T4, d.TimeD}
	return nil
}
