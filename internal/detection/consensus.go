package detection

// Confidence weights and bonuses.
const (
	gapConfidenceMs     = 50.0
	signalConfidenceMax = 100.0
	gapWeight           = 0.6
	signalWeight        = 0.4
	consensusBonus      = 0.15
)

// ModuleDetection is one module's independent verdict for a transit.
type ModuleDetection struct {
	Module    int // zero-based
	Direction Direction
	A, B      Wave

	ThresholdA, ThresholdB float64
	BaselineA, BaselineB   float64
}

// CombinedPeak is the summed peak signal used to pick the authoritative
// module.
func (m ModuleDetection) CombinedPeak() float64 { return m.A.PeakValue + m.B.PeakValue }

// ComGapMs is the absolute gap between the two centres of mass.
func (m ModuleDetection) ComGapMs() float64 {
	gap := m.A.CenterOfMass - m.B.CenterOfMass
	if gap < 0 {
		return -gap
	}
	return gap
}

// IsModuleDetected reports whether two completed waves form one transit:
// both complete, both longer than MinWaveDurationMs and peaking within
// MaxPeakGapMs of each other.
func IsModuleDetected(a, b Wave, cfg *DetectorConfig) bool {
	if a.State != WaveComplete || b.State != WaveComplete {
		return false
	}
	if a.DurationMs() <= cfg.MinWaveDurationMs || b.DurationMs() <= cfg.MinWaveDurationMs {
		return false
	}
	gap := a.PeakMs - b.PeakMs
	if gap < 0 {
		gap = -gap
	}
	return gap <= cfg.MaxPeakGapMs
}

// ModuleDirection compares centres of mass: the side whose wave mass comes
// first is the entry side. Ties fall back to raw peak times.
func ModuleDirection(a, b Wave) Direction {
	switch {
	case a.CenterOfMass < b.CenterOfMass:
		return DirectionAToB
	case b.CenterOfMass < a.CenterOfMass:
		return DirectionBToA
	case a.PeakMs < b.PeakMs:
		return DirectionAToB
	default:
		return DirectionBToA
	}
}

// Confidence scores a detection from the authoritative module's timing gap
// and mean peak, plus a bonus for each level of cross-module agreement.
// agreeing is the number of modules voting for the majority direction.
func Confidence(comGapMs, avgPeak float64, agreeing int) float64 {
	gapConf := min(1, comGapMs/gapConfidenceMs)
	sigConf := min(1, avgPeak/signalConfidenceMax)
	c := gapWeight*gapConf + signalWeight*sigConf
	if agreeing >= 2 {
		c += consensusBonus
	}
	if agreeing >= 3 {
		c += consensusBonus
	}
	return max(0, min(1, c))
}

// Consensus fuses independent module verdicts into one result. The
// authoritative module is the one with the largest combined peak; the
// direction is only reported when every module agrees.
func Consensus(mods []ModuleDetection, tsMs int64) (DetectionResult, bool) {
	if len(mods) == 0 {
		return DetectionResult{}, false
	}

	auth := 0
	var aToB, bToA int
	for i, m := range mods {
		if m.CombinedPeak() > mods[auth].CombinedPeak() {
			auth = i
		}
		switch m.Direction {
		case DirectionAToB:
			aToB++
		case DirectionBToA:
			bToA++
		}
	}

	consistent := aToB == 0 || bToA == 0
	m := mods[auth]

	res := DetectionResult{
		Direction:           DirectionUnknown,
		CenterOfMassA:       m.A.CenterOfMass,
		CenterOfMassB:       m.B.CenterOfMass,
		ComGapMs:            m.ComGapMs(),
		PeakSignalA:         m.A.PeakValue,
		PeakSignalB:         m.B.PeakValue,
		WaveDurationA:       m.A.DurationMs(),
		WaveDurationB:       m.B.DurationMs(),
		BaselineA:           m.BaselineA,
		BaselineB:           m.BaselineB,
		ThresholdA:          m.ThresholdA,
		ThresholdB:          m.ThresholdB,
		DetectedModule:      m.Module + 1,
		ModulesDetected:     len(mods),
		DirectionConsistent: consistent,
		TimestampMs:         tsMs,
	}
	if consistent {
		res.Direction = m.Direction
	}
	res.Confidence = Confidence(res.ComGapMs, m.CombinedPeak()/2, max(aToB, bToA))
	return res, true
}
