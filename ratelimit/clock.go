package ratelimit

import "golang.org/x/sys/unix"

// Now reads CLOCK_MONOTONIC in ns, the clock bpf_ktime_get_ns uses, so
// userspace and kernel timestamps are comparable.
func Now() int64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		// only EFAULT or EINVAL, impossible for a stack Timespec and a
		// clock every linux kernel supports
		panic(err)
	}

	return ts.Nano()
}
