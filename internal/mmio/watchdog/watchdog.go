// Package watchdog reproduces the BCM283x power-management block's
// reset/watchdog registers, bit-exact. Reboot/watchdog handling itself
// is out of scope for the kernel core; this package exists only so the
// MMIO map is complete.
package watchdog

// Register offsets off kconfig.WatchdogBase.
const (
	RegRSTC = 0x1c
	RegRSTS = 0x20
	RegWDOG = 0x24
)

const (
	// Password required in the top byte of every PM register write.
	Password = 0x5a00_0000

	RSTCWRCFGClear = 0xffff_ffcf
	RSTCWRCFGFullReset = 0x0000_0020
)
