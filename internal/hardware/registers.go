package hardware

// Register offsets within the TSC_ADC_SS block (AM335x TRM, chapter 12).
const (
	RegRevision     Offset = 0x000
	RegIRQStatus    Offset = 0x028
	RegIRQEnableSet Offset = 0x02C
	RegIRQEnableClr Offset = 0x030
	RegCTRL         Offset = 0x040 // Control
	RegADCFSM       Offset = 0x044 // Sequencer status (read-only)
	RegCLKDIV       Offset = 0x04C // ADC clock divider, zero-based
	RegSE           Offset = 0x054 // Step enable, one bit per step
	RegIDLECONFIG   Offset = 0x058 // Electrode state while no step is active
)

// Control register bits.
const (
	CtrlSSEnable        uint32 = 1 << 0 // TSC_ADC_SS module enable
	CtrlStepID          uint32 = 1 << 1 // store step ID tag with FIFO data
	CtrlStepConfigWrite uint32 = 1 << 2 // step config registers writable
	CtrlPowerDown       uint32 = 1 << 4
	ctrlAFEShift               = 5
	Ctrl4Wire           uint32 = 1 << ctrlAFEShift // AFE pen control: 4-wire
	Ctrl5Wire           uint32 = 2 << ctrlAFEShift
	Ctrl8Wire           uint32 = 3 << ctrlAFEShift
	CtrlTSCEnable       uint32 = 1 << 7 // touchscreen transistors enable
)

// Step configuration bits, shared by the idle and per-step config registers.
const (
	StepConfigXPP uint32 = 1 << 5
	StepConfigXNN uint32 = 1 << 6
	StepConfigYPP uint32 = 1 << 7
	StepConfigYNN uint32 = 1 << 8
	StepConfigXNP uint32 = 1 << 9
	StepConfigYPN uint32 = 1 << 10

	stepConfigINMShift = 15
	stepConfigINPShift = 19

	StepConfigINMRefM uint32 = 8 << stepConfigINMShift // negative input = ADC VREFM
	StepConfigINPRefM uint32 = 8 << stepConfigINPShift // positive input = ADC VREFM
)

// IdleConfig holds the electrode bias applied between conversions: both
// Y-plate switches grounded and both ADC inputs tied to VREFM, so the inputs
// never float between samples.
const IdleConfig = StepConfigYNN | StepConfigYPN | StepConfigINMRefM | StepConfigINPRefM

// OperatingBits is the control word written in full before the subsystem is
// enabled: 4-wire mode, step config write enable, step ID tagging and
// touchscreen enable.
const OperatingBits = CtrlStepConfigWrite | CtrlTSCEnable | CtrlStepID | Ctrl4Wire

// ControlWord is the content of the control register, split by owner.
//
// The operating bits are written as a whole; the subsystem enable bit is only
// ever set afterwards by a read-modify-write of the live register, so a
// ControlWord built from operating bits can never carry it.
type ControlWord struct {
	operating uint32
	ssEnable  bool
}

// NewControlWord returns a control word holding the given operating bits with
// the subsystem disabled. CtrlSSEnable is stripped from bits.
func NewControlWord(bits uint32) ControlWord {
	return ControlWord{operating: bits &^ CtrlSSEnable}
}

// ParseControlWord splits a raw control register value.
func ParseControlWord(v uint32) ControlWord {
	return ControlWord{operating: v &^ CtrlSSEnable, ssEnable: v&CtrlSSEnable != 0}
}

// Operating returns the operating bits.
func (c ControlWord) Operating() uint32 { return c.operating }

// SubsystemEnabled reports whether the subsystem enable bit is set.
func (c ControlWord) SubsystemEnabled() bool { return c.ssEnable }

// WithSubsystemEnable returns c with the subsystem enable bit set and the
// operating bits untouched.
func (c ControlWord) WithSubsystemEnable() ControlWord {
	c.ssEnable = true
	return c
}

// Value returns the raw register value.
func (c ControlWord) Value() uint32 {
	v := c.operating
	if c.ssEnable {
		v |= CtrlSSEnable
	}
	return v
}

// EnableSubsystem sets the subsystem enable bit in the live control register,
// preserving every other bit.
func EnableSubsystem(b Bank) ControlWord {
	cw := ParseControlWord(b.Read(RegCTRL)).WithSubsystemEnable()
	b.Write(RegCTRL, cw.Value())
	return cw
}

// RegisterSnapshot is the programmed controller state as read back from the
// bank.
type RegisterSnapshot struct {
	ClkDiv     uint32 `json:"clkdiv"`
	Ctrl       uint32 `json:"ctrl"`
	IdleConfig uint32 `json:"idleconfig"`
	StepEnable uint32 `json:"se"`
}

// ReadSnapshot reads the programmed registers from b.
func ReadSnapshot(b Bank) RegisterSnapshot {
	return RegisterSnapshot{
		ClkDiv:     b.Read(RegCLKDIV),
		Ctrl:       b.Read(RegCTRL),
		IdleConfig: b.Read(RegIDLECONFIG),
		StepEnable: b.Read(RegSE),
	}
}
