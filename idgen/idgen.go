// Package idgen produces globally-unique correlation ids for MLT
// connections, for use in connection-establishment log lines (supplements
// spec.md, which leaves connection identification to comm_id alone).
// Adapted from the teacher's socket-cookie UUID scheme in uuid/uuid.go:
// a per-process prefix (hostname + boot time) combined with a per-socket
// cookie, so ids stay stable across process restarts only insofar as the
// host does not reboot, but are always unique within one boot.
package idgen

import (
	"fmt"
	"io/ioutil"
	"os"
	"strconv"
	"strings"
	"time"
)

var cachedPrefix string

func timeToUnix(t time.Time) int64 {
	return int64(t.Sub(time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)).Seconds())
}

// getBoottimeWithRaceCondition has a race condition between the reading of
// /proc/uptime and the call to time.Now(). If, between those two reads, we
// cross a second-granularity time boundary, the result can be off by one.
// Callers repeat the call until it returns the same answer twice.
func getBoottimeWithRaceCondition() (int64, error) {
	procuptime, err := ioutil.ReadFile("/proc/uptime")
	if err != nil {
		return -1, err
	}
	fields := strings.Split(string(procuptime), " ")
	if len(fields) != 2 {
		return -1, fmt.Errorf("idgen: could not split /proc/uptime into two fields")
	}
	uptime, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return -1, fmt.Errorf("idgen: could not parse /proc/uptime: %w", err)
	}
	return timeToUnix(time.Now().Add(time.Duration(-1 * uptime * float64(time.Second)))), nil
}

func getBoottime() (int64, error) {
	var prev, curr int64
	curr, err := getBoottimeWithRaceCondition()
	if err != nil {
		return curr, err
	}
	for prev != curr {
		prev = curr
		curr, err = getBoottimeWithRaceCondition()
		if err != nil {
			return curr, err
		}
	}
	return curr, nil
}

// prefix returns a string containing the hostname and boot time of the
// machine, which globally uniquely identifies this process's id namespace.
// Cached, since the pair is constant for the lifetime of one boot.
func prefix() (string, error) {
	if cachedPrefix != "" {
		return cachedPrefix, nil
	}
	hostname, err := os.Hostname()
	if err != nil {
		return "", err
	}
	boottime, err := getBoottime()
	if err != nil {
		// Non-Linux hosts (or missing /proc/uptime) fall back to process
		// start time; still unique per process, just not per-boot.
		boottime = time.Now().Unix()
	}
	cachedPrefix = fmt.Sprintf("%s_%d", hostname, boottime)
	return cachedPrefix, nil
}

// FromCookie formats a correlation id from a raw socket cookie, scoped to
// the comm_id pair the reliable-channel handshake (spec §4.7) negotiated
// for this connection, so the id is traceable back to a connection's two
// endpoints in logs without a separate lookup table.
func FromCookie(localCommID, peerCommID int32, cookie uint64) (string, error) {
	p, err := prefix()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s_c%d-%d_%X", p, localCommID, peerCommID, cookie), nil
}
