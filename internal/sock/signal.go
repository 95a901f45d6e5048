package sock

import (
	"os"
	"os/signal"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
)

// ControlEvent is a typed event delivered on the control channel.
type ControlEvent int

const (
	EventNone ControlEvent = iota
	EventTerminate
	EventReload
)

// NewSignalFD blocks SIGINT, SIGTERM and SIGHUP for the process and
// returns a signalfd descriptor carrying them. Returns ErrSock on
// platforms or setups where signalfd is unavailable; the caller then
// falls back to FallbackSignals.
func NewSignalFD() int {
	var mask unix.Sigset_t
	addSig(&mask, unix.SIGINT)
	addSig(&mask, unix.SIGTERM)
	addSig(&mask, unix.SIGHUP)
	if err := blockSignals(&mask); err != nil {
		return ErrSock
	}
	fd, err := unix.Signalfd(-1, &mask, unix.SFD_NONBLOCK|unix.SFD_CLOEXEC)
	if err != nil {
		return ErrSock
	}
	return fd
}

func addSig(mask *unix.Sigset_t, sig unix.Signal) {
	mask.Val[uint(sig-1)/64] |= 1 << (uint(sig-1) % 64)
}

func blockSignals(mask *unix.Sigset_t) error {
	_, _, errno := unix.Syscall6(unix.SYS_RT_SIGPROCMASK, uintptr(unix.SIG_BLOCK),
		uintptr(unsafe.Pointer(mask)), 0, 8, 0, 0)
	if errno != 0 {
		return errno
	}
	return nil
}

// ReadSignal drains one pending signal from a signalfd descriptor and
// maps it to a control event.
func ReadSignal(sigfd int) ControlEvent {
	var info unix.SignalfdSiginfo
	buf := (*[unsafe.Sizeof(info)]byte)(unsafe.Pointer(&info))[:]
	n, err := unix.Read(sigfd, buf)
	if err != nil || n != len(buf) {
		return EventNone
	}
	switch unix.Signal(info.Signo) {
	case unix.SIGINT, unix.SIGTERM:
		return EventTerminate
	case unix.SIGHUP:
		return EventReload
	}
	return EventNone
}

// FallbackSignals delivers the same control events through the runtime
// signal handler for environments without signalfd.
func FallbackSignals() <-chan ControlEvent {
	sigs := make(chan os.Signal, 4)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	events := make(chan ControlEvent, 4)
	go func() {
		for s := range sigs {
			if s == syscall.SIGHUP {
				events <- EventReload
			} else {
				events <- EventTerminate
			}
		}
	}()
	return events
}
