package serial

// StandardBaudRates lists the rates every backend accepts, fastest first.
var StandardBaudRates = []int{
	921600, 460800, 230400, 115200, 57600, 38400, 19200, 9600, 4800, 2400, 1200,
}

// IsStandardBaudRate reports whether rate is in StandardBaudRates.
func IsStandardBaudRate(rate int) bool {
	for _, r := range StandardBaudRates {
		if r == rate {
			return true
		}
	}
	return false
}
