// Package snowflake generates sortable 64-bit ids and their short-code form.
package snowflake

import (
	"crypto/sha256"
	"database/sql/driver"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"
	"time"
)

const (
	timestampShift = 22
	machineShift   = 12
	machineMask    = 1<<10 - 1
	sequenceMask   = 1<<12 - 1
)

// Epoch is 2024-01-01T00:00:00Z.
var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// ID is an opaque snowflake id. Zero means unsaved.
type ID int64

func (id ID) String() string { return Encode(id) }

func (id ID) IsZero() bool { return id == 0 }

// Time returns the creation instant embedded in the id.
func (id ID) Time() time.Time {
	return Epoch.Add(time.Duration(int64(id)>>timestampShift) * time.Millisecond)
}

func (id ID) MarshalJSON() ([]byte, error) {
	return []byte(`"` + Encode(id) + `"`), nil
}

// UnmarshalJSON accepts a short code string or a raw integer.
func (id *ID) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*id = 0
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		v, err := Decode(s)
		if err != nil {
			return err
		}
		*id = v
		return nil
	}
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return fmt.Errorf("snowflake: cannot decode %s", b)
	}
	*id = ID(n)
	return nil
}

func (id ID) MarshalText() ([]byte, error) { return []byte(Encode(id)), nil }

func (id *ID) UnmarshalText(b []byte) error {
	v, err := Decode(string(b))
	if err != nil {
		return err
	}
	*id = v
	return nil
}

func (id ID) Value() (driver.Value, error) { return int64(id), nil }

func (id *ID) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*id = 0
	case int64:
		*id = ID(v)
	case []byte:
		n, err := strconv.ParseInt(string(v), 10, 64)
		if err != nil {
			return err
		}
		*id = ID(n)
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return err
		}
		*id = ID(n)
	default:
		return fmt.Errorf("snowflake: cannot scan %T", src)
	}
	return nil
}

// Generator produces monotonic ids for one machine id.
type Generator struct {
	mu      sync.Mutex
	machine int64
	lastMs  int64
	seq     int64
	now     func() time.Time
}

func NewGenerator(machineID int64) *Generator {
	return &Generator{machine: machineID & machineMask, now: time.Now}
}

func (g *Generator) nowMs() int64 { return g.now().Sub(Epoch).Milliseconds() }

func (g *Generator) Next() ID {
	g.mu.Lock()
	defer g.mu.Unlock()
	ms := g.nowMs()
	if ms < g.lastMs {
		ms = g.lastMs
	}
	if ms == g.lastMs {
		g.seq = (g.seq + 1) & sequenceMask
		if g.seq == 0 {
			for ms <= g.lastMs {
				time.Sleep(100 * time.Microsecond)
				ms = g.nowMs()
			}
		}
	} else {
		g.seq = 0
	}
	g.lastMs = ms
	return ID(ms<<timestampShift | g.machine<<machineShift | g.seq)
}

// MachineID derives the 10-bit machine id from SHA-256(MAC || hostname).
func MachineID() int64 {
	var mac []byte
	if ifaces, err := net.Interfaces(); err == nil {
		for _, ifc := range ifaces {
			if len(ifc.HardwareAddr) > 0 {
				mac = ifc.HardwareAddr
				break
			}
		}
	}
	host, _ := os.Hostname()
	sum := sha256.Sum256(append(append([]byte{}, mac...), host...))
	return int64(binary.BigEndian.Uint16(sum[30:]) & machineMask)
}

var (
	defaultOnce sync.Once
	defaultGen  *Generator
)

// Next returns an id from the process-wide generator.
func Next() ID {
	defaultOnce.Do(func() { defaultGen = NewGenerator(MachineID()) })
	return defaultGen.Next()
}
