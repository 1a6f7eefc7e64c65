package config

import "github.com/micro-nova/tscadc-go/internal/platform"

// AM335x register window and interrupt of the TSC_ADC_SS.
const (
	am335xBase = 0x44E0D000
	am335xEnd  = 0x44E0EFFF
	am335xIRQ  = 16
)

// AM335x returns the description of the touchscreen/ADC block found on
// AM335x boards: a 4-wire touchscreen and the four remaining ADC channels.
func AM335x() *platform.Device {
	return &platform.Device{
		Name:   "44e0d000.tscadc",
		Driver: "ti_tscadc",
		Config: &platform.ControllerConfig{
			ADCChannels:      4,
			TSCWires:         4,
			XPlateResistance: 200,
		},
		Resources: []platform.Resource{
			{Kind: platform.ResourceMem, Name: "tscadc", Start: am335xBase, End: am335xEnd},
			{Kind: platform.ResourceIRQ, Start: am335xIRQ, End: am335xIRQ},
		},
	}
}
