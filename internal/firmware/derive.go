// Package firmware implements the ACPI/APM/PMU periodic-poll backends:
// each namespace is registered at startup if its pseudo-
// filesystem root exists, synthesizes one add-event per discovered object,
// then re-reads per-object state on a fixed cadence and mutates properties
// in place.
package firmware

// BatteryReading is the raw state a backend reads from its per-object
// state file, before derived-property computation.
type BatteryReading struct {
	Present        bool
	ChargeNow      float64 // raw charge or capacity, in ReportedUnit
	RateNow        float64 // present rate, in ReportedUnit per hour
	FullCharge     float64 // last full / design capacity, in ReportedUnit
	DesignVoltage  float64 // mV; 0 if unknown
	ReportedUnit   string  // "mAh" or "mWh" as the backend reported it
	Charging       bool
	Discharging    bool
}

// BatteryDerived is the shared derived-property set: remaining time and
// percentage from raw charge/rate/full-charge, plus the mAh->mWh
// conversion, applied only when ReportedUnit is "mAh" and DesignVoltage
// is known.
type BatteryDerived struct {
	Unit                string // "mWh" when converted, else ReportedUnit verbatim
	ChargeLevelWh       float64
	FullChargeWh        float64
	PercentageRemaining float64 // 0-100, 0 if FullCharge is 0
	RemainingMinutes    int64   // 0 if RateNow is 0 or direction can't be determined
}

// DeriveBattery computes BatteryDerived from a BatteryReading. Unit
// conversion (mAh->mWh at design voltage when voltage > 0) is applied only
// when the reported unit is mAh; otherwise the value is taken verbatim and
// the unit recorded.
func DeriveBattery(r BatteryReading) BatteryDerived {
	unit := r.ReportedUnit
	charge, rate, full := r.ChargeNow, r.RateNow, r.FullCharge

	if r.ReportedUnit == "mAh" && r.DesignVoltage > 0 {
		voltsV := r.DesignVoltage / 1000.0
		charge *= voltsV
		rate *= voltsV
		full *= voltsV
		unit = "mWh"
	}

	d := BatteryDerived{Unit: unit, ChargeLevelWh: charge, FullChargeWh: full}
	if full > 0 {
		d.PercentageRemaining = (charge / full) * 100
	}
	switch {
	case r.Discharging && rate > 0:
		d.RemainingMinutes = int64((charge / rate) * 60)
	case r.Charging && rate > 0:
		d.RemainingMinutes = int64(((full - charge) / rate) * 60)
	}
	return d
}
