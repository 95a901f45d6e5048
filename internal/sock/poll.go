package sock

import (
	"golang.org/x/sys/unix"
)

// Poll timeouts. The longer timeout applies when a signal descriptor is
// part of the set, since signals then interrupt the wait directly.
const (
	pollTimeoutMS       = 333
	pollTimeoutSignalMS = 4000
)

// PollResult reports the outcome of one readiness wait.
type PollResult struct {
	// Ready is the first listener fd with pending connections, or
	// ErrSock when none.
	Ready int
	// Failed lists listener fds that reported an error condition and
	// must be closed and spliced out.
	Failed []int
	// Signal is set when the signal descriptor became readable.
	Signal bool
}

// Wait polls the listener set, plus sigfd when non-negative, for
// readability. It returns after the bounded timeout even when nothing is
// ready.
func Wait(fds []int, sigfd int) (PollResult, error) {
	res := PollResult{Ready: ErrSock}

	pfds := make([]unix.PollFd, len(fds), len(fds)+1)
	for i, fd := range fds {
		pfds[i] = unix.PollFd{Fd: int32(fd), Events: unix.POLLIN}
	}
	timeout := pollTimeoutMS
	if sigfd >= 0 {
		pfds = append(pfds, unix.PollFd{Fd: int32(sigfd), Events: unix.POLLIN})
		timeout = pollTimeoutSignalMS
	}

	n, err := unix.Poll(pfds, timeout)
	if err != nil {
		if Recoverable(err) {
			return res, nil
		}
		return res, err
	}
	if n == 0 {
		return res, nil
	}

	if sigfd >= 0 {
		sp := pfds[len(pfds)-1]
		if sp.Revents&unix.POLLIN != 0 {
			res.Signal = true
		}
	}
	for i := range fds {
		rev := pfds[i].Revents
		if rev&unix.POLLIN != 0 && res.Ready == ErrSock {
			res.Ready = fds[i]
		}
		if rev&(unix.POLLHUP|unix.POLLERR|unix.POLLNVAL) != 0 {
			res.Failed = append(res.Failed, fds[i])
		}
	}
	return res, nil
}
