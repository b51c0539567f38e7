package mac

import "fmt"

// UlSchedulerKind selects how an uplink grant is split across logical
// channels.
type UlSchedulerKind string

const (
	UlSchedulerRoundRobin        UlSchedulerKind = "rr"
	UlSchedulerMaximumThroughput UlSchedulerKind = "mt"
	UlSchedulerProportionalFair  UlSchedulerKind = "pf"
	UlSchedulerPriority          UlSchedulerKind = "priority"
)

// Config holds the tunables of one UE MAC.
type Config struct {
	// T1 and T2 bound the V2X selection window, in subframes after the
	// reselection subframe.
	T1 uint16 `yaml:"t1"`
	T2 uint16 `yaml:"t2"`
	// SubchannelLength is the number of subchannels per V2X transmission.
	SubchannelLength    uint16  `yaml:"subchannel_length"`
	ReservationPeriodMs uint16  `yaml:"reservation_period_ms"`
	ProbResourceKeep    float64 `yaml:"prob_resource_keep"`
	EnableV2xHarq       bool    `yaml:"enable_v2x_harq"`

	SlGrantMcs  uint8  `yaml:"sl_grant_mcs"`
	SlGrantSize uint16 `yaml:"sl_grant_size"`
	// Ktrp is the number of transmissions per T-RPT; 0 lets the UE pick.
	Ktrp        int    `yaml:"ktrp"`
	PucchSize   uint16 `yaml:"pucch_size"`
	UlBandwidth uint16 `yaml:"ul_bandwidth"`
	// PHarq is the percentage chance that a legacy HARQ repeat is sent.
	PHarq int `yaml:"p_harq"`

	// BsrPeriodicity is in subframes.
	BsrPeriodicity int `yaml:"bsr_periodicity"`

	InitialRsrpThresholdDbm float64 `yaml:"initial_rsrp_threshold_dbm"`
	RsrpThresholdStepDb     float64 `yaml:"rsrp_threshold_step_db"`
	// PriorityRsrpThreshold derives the per-record starting threshold from
	// the transmit and sensed priorities instead of InitialRsrpThresholdDbm.
	PriorityRsrpThreshold bool `yaml:"priority_rsrp_threshold"`

	// The first reselection waits U[StartupDelayMin, StartupDelayMax]
	// subframes.
	StartupDelayMin int `yaml:"startup_delay_min"`
	StartupDelayMax int `yaml:"startup_delay_max"`

	UlScheduler UlSchedulerKind `yaml:"ul_scheduler"`

	Seed uint64 `yaml:"seed"`
}

// DefaultConfig returns the standard MAC settings.
func DefaultConfig() Config {
	return Config{
		T1:                      4,
		T2:                      100,
		SubchannelLength:        1,
		ReservationPeriodMs:     100,
		SlGrantSize:             1,
		UlBandwidth:             25,
		PHarq:                   100,
		BsrPeriodicity:          1,
		InitialRsrpThresholdDbm: -110,
		RsrpThresholdStepDb:     3,
		StartupDelayMin:         2000,
		StartupDelayMax:         3000,
		UlScheduler:             UlSchedulerRoundRobin,
	}
}

// ApplyDefaults fills zero-valued fields that have no meaningful zero.
func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if c.T2 == 0 {
		c.T2 = d.T2
	}
	if c.SubchannelLength == 0 {
		c.SubchannelLength = d.SubchannelLength
	}
	if c.ReservationPeriodMs == 0 {
		c.ReservationPeriodMs = d.ReservationPeriodMs
	}
	if c.SlGrantSize == 0 {
		c.SlGrantSize = d.SlGrantSize
	}
	if c.UlBandwidth == 0 {
		c.UlBandwidth = d.UlBandwidth
	}
	if c.BsrPeriodicity == 0 {
		c.BsrPeriodicity = d.BsrPeriodicity
	}
	if c.InitialRsrpThresholdDbm == 0 {
		c.InitialRsrpThresholdDbm = d.InitialRsrpThresholdDbm
	}
	if c.RsrpThresholdStepDb == 0 {
		c.RsrpThresholdStepDb = d.RsrpThresholdStepDb
	}
	if c.UlScheduler == "" {
		c.UlScheduler = d.UlScheduler
	}
}

// Validate reports configuration errors.
func (c Config) Validate() error {
	if _, _, err := reselectionRange(c.ReservationPeriodMs); err != nil {
		return err
	}
	switch c.Ktrp {
	case 0, 1, 2, 4, 8:
	default:
		return fmt.Errorf("%w: %d", ErrInvalidKtrp, c.Ktrp)
	}
	if c.PucchSize%2 != 0 {
		return fmt.Errorf("%w: %d", ErrInvalidPucchSize, c.PucchSize)
	}
	if c.PucchSize >= c.UlBandwidth {
		return fmt.Errorf("%w: PUCCH of %d RBs leaves no room in %d RBs", ErrInvalidConfig, c.PucchSize, c.UlBandwidth)
	}
	if c.T1 > 4 || c.T2 < 20 || c.T2 > 100 {
		return fmt.Errorf("%w: selection window T1=%d T2=%d", ErrInvalidConfig, c.T1, c.T2)
	}
	if c.SubchannelLength == 0 {
		return fmt.Errorf("%w: zero subchannel length", ErrInvalidConfig)
	}
	if c.ProbResourceKeep < 0 || c.ProbResourceKeep > 0.8 {
		return fmt.Errorf("%w: resource keep probability %.2f outside [0, 0.8]", ErrInvalidConfig, c.ProbResourceKeep)
	}
	if c.PHarq < 0 || c.PHarq > 100 {
		return fmt.Errorf("%w: HARQ probability %d", ErrInvalidConfig, c.PHarq)
	}
	if c.SlGrantSize == 0 {
		return fmt.Errorf("%w: zero sidelink grant size", ErrInvalidConfig)
	}
	if c.BsrPeriodicity < 1 {
		return fmt.Errorf("%w: BSR periodicity %d", ErrInvalidConfig, c.BsrPeriodicity)
	}
	if c.RsrpThresholdStepDb <= 0 {
		return fmt.Errorf("%w: RSRP threshold step %.1f dB", ErrInvalidConfig, c.RsrpThresholdStepDb)
	}
	if c.StartupDelayMin < 0 || c.StartupDelayMax < c.StartupDelayMin {
		return fmt.Errorf("%w: startup delay [%d, %d]", ErrInvalidConfig, c.StartupDelayMin, c.StartupDelayMax)
	}
	if _, err := newUplinkAllocator(c.UlScheduler); err != nil {
		return err
	}
	return nil
}
