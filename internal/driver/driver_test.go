package driver

import (
	"testing"

	"github.com/ppodds/osc2024/internal/intc"
	"github.com/stretchr/testify/require"
)

type recordingDriver struct {
	name  string
	order *[]string
}

func (r *recordingDriver) Init() error {
	*r.order = append(*r.order, r.name+":init")
	return nil
}

func TestInitRunsInitThenPostInitInRegistrationOrder(t *testing.T) {
	var order []string
	m := New()

	require.NoError(t, m.Register(Descriptor{
		Driver:   &recordingDriver{name: "uart", order: &order},
		PostInit: func() error { order = append(order, "uart:post"); return nil },
	}))
	require.NoError(t, m.Register(Descriptor{
		Driver:   &recordingDriver{name: "gpio", order: &order},
		PostInit: func() error { order = append(order, "gpio:post"); return nil },
	}))

	require.NoError(t, m.InitDriversAndInterrupts(intc.New()))
	require.Equal(t, []string{"uart:init", "gpio:init", "uart:post", "gpio:post"}, order)
}

func TestInitRegistersInterruptHandlers(t *testing.T) {
	m := New()
	fired := false
	require.NoError(t, m.Register(Descriptor{
		Driver:      &recordingDriver{name: "timer", order: &[]string{}},
		HasIRQ:      true,
		IRQ:         3,
		IRQPriority: 1,
		Handler:     func() { fired = true },
	}))

	c := intc.New()
	require.NoError(t, m.InitDriversAndInterrupts(c))
	require.NoError(t, c.RaisePeripheral(3))
	c.RunPending()
	require.True(t, fired)
}

func TestRegisterRejectsBeyondMaxDrivers(t *testing.T) {
	m := New()
	for i := 0; i < 6; i++ {
		require.NoError(t, m.Register(Descriptor{Driver: &recordingDriver{name: "d", order: &[]string{}}}))
	}
	require.Error(t, m.Register(Descriptor{Driver: &recordingDriver{name: "overflow", order: &[]string{}}}))
}
