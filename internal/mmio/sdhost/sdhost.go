// Package sdhost reproduces the BCM283x SD host controller's register
// layout, bit-exact. The SD card filesystem driver itself is out of
// scope for the kernel core; this package exists only so the MMIO map
// is complete and future callers don't have to re-derive it.
package sdhost

// Register offsets off kconfig.SDHostBase.
const (
	RegCmd = 0x00
	RegArg = 0x04
	RegTout = 0x08
	RegCdiv = 0x0c
	RegResp0 = 0x10
	RegResp1 = 0x14
	RegResp2 = 0x18
	RegResp3 = 0x1c
	RegHsts = 0x20
	RegPwr = 0x30
	RegDbg = 0x34
	RegCfg = 0x38
	RegSize = 0x3c
	RegData = 0x40
	RegCnt = 0x50
)

// CMD register fields.
const (
	CmdNewCmd = 1 << 15
	CmdBusy = 1 << 11
	CmdNoResponse = 1 << 10
	CmdLongResponse = 1 << 9
	CmdWrite = 1 << 7
	CmdRead = 1 << 6
)

// CFG register fields.
const (
	CfgDataEn = 1 << 4
	CfgSlow = 1 << 3
	CfgIntbus = 1 << 1
)

// SD card command indices, as issued via RegCmd|RegArg.
const (
	CmdGoIdleState = 0
	CmdSendOpCmd = 1
	CmdAllSendCid = 2
	CmdSendRelativeAddress = 3
	CmdSelectCard = 7
	CmdSendIfCondition = 8
	CmdStopTransmission = 12
	CmdSetBlockLength = 16
	CmdReadSingleBlock = 17
	CmdWriteSingleBlock = 24
	CmdApplicationCommand = 55
)
