// internal/transport/errors.go
package transport

import (
	"errors"
	"net"
	"strings"
	"syscall"

	gbmodbus "github.com/goburrow/modbus"
)

// IsProtocolError reports whether err carries a Modbus exception code.
// Protocol errors never tear down the link.
func IsProtocolError(err error) bool {
	_, ok := ExceptionCode(err)
	return ok
}

// ExceptionCode extracts the Modbus exception code from err.
func ExceptionCode(err error) (byte, bool) {
	var me *gbmodbus.ModbusError
	if errors.As(err, &me) {
		return me.ExceptionCode, true
	}
	return 0, false
}

// IsTransportFault is the complement of IsProtocolError for non-nil errors.
func IsTransportFault(err error) bool {
	return err != nil && !IsProtocolError(err)
}

// IsBusy reports exceptions that signal an overloaded device.
func IsBusy(err error) bool {
	code, ok := ExceptionCode(err)
	return ok && (code == gbmodbus.ExceptionCodeAcknowledge || code == gbmodbus.ExceptionCodeServerDeviceBusy)
}

// IsIllegalAddress reports the "illegal data address" exception, the usual answer of
// a device to a probe for a feature it does not have.
func IsIllegalAddress(err error) bool {
	code, ok := ExceptionCode(err)
	return ok && code == gbmodbus.ExceptionCodeIllegalDataAddress
}

// IsTimeout reports network timeouts.
func IsTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// IsUnreachable reports "host/network unreachable" style failures.
func IsUnreachable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, syscall.EHOSTUNREACH) || errors.Is(err, syscall.ENETUNREACH) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "no route to host") || strings.Contains(msg, "unreachable")
}
