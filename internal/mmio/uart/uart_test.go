package uart

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ppodds/osc2024/internal/mmio/gpio"
)

type fakeBus struct {
	regs map[uintptr]uint32
}

func newFakeBus() *fakeBus { return &fakeBus{regs: map[uintptr]uint32{}} }

func (b *fakeBus) Read32(offset uintptr) uint32     { return b.regs[offset] }
func (b *fakeBus) Write32(offset uintptr, v uint32) { b.regs[offset] = v }

func newTestDriver() (*Driver, *fakeBus) {
	bus := newFakeBus()
	gpioBus := newFakeBus()
	d := New(bus, gpio.New(gpioBus))
	_ = d.Init()
	return d, bus
}

func TestNewEnablesTransmitterAndReceiver(t *testing.T) {
	_, bus := newTestDriver()
	require.NotEqual(t, uint32(0), bus.regs[regControl]&cntlTransmitterEnable)
	require.NotEqual(t, uint32(0), bus.regs[regControl]&cntlReceiverEnable)
	require.Equal(t, uint32(auxEnableMiniUART), bus.regs[regAUXEnable])
}

func TestNewDefaultsToAsyncModeWithReceiveInterruptEnabled(t *testing.T) {
	_, bus := newTestDriver()
	require.NotEqual(t, uint32(0), bus.regs[regInterruptEnable]&ierEnableReceiveInterrupt)
}

func TestReadByteReturnsDataRegisterOnceReady(t *testing.T) {
	d, bus := newTestDriver()
	bus.regs[regLineStatus] = lsrDataReady
	bus.regs[regData] = 'x'
	require.Equal(t, byte('x'), d.ReadByte())
}

func TestWriteByteWritesDataRegisterOnceTransmitterEmpty(t *testing.T) {
	d, bus := newTestDriver()
	bus.regs[regLineStatus] = lsrTransmitterEmpty
	d.WriteByte('A')
	require.Equal(t, uint32('A'), bus.regs[regData])
}

func TestSetAsyncModeTogglesReceiveInterruptBit(t *testing.T) {
	d, bus := newTestDriver()
	d.SetAsyncMode(false)
	require.Equal(t, uint32(0), bus.regs[regInterruptEnable]&ierEnableReceiveInterrupt)

	d.SetAsyncMode(true)
	require.NotEqual(t, uint32(0), bus.regs[regInterruptEnable]&ierEnableReceiveInterrupt)
}

func TestEnableDisableTransmitInterrupt(t *testing.T) {
	d, bus := newTestDriver()
	d.EnableTransmitInterrupt()
	require.NotEqual(t, uint32(0), bus.regs[regInterruptEnable]&ierEnableTransmitInterrupt)
	d.DisableTransmitInterrupt()
	require.Equal(t, uint32(0), bus.regs[regInterruptEnable]&ierEnableTransmitInterrupt)
}
