package audio

import "fmt"

type GatingMode string

const (
	ModeVoiceActivity GatingMode = "vad"
	ModePushToTalk    GatingMode = "ptt"
)

func ParseGatingMode(s string) (GatingMode, error) {
	switch GatingMode(s) {
	case ModeVoiceActivity, "":
		return ModeVoiceActivity, nil
	case ModePushToTalk:
		return ModePushToTalk, nil
	}
	return "", fmt.Errorf("unknown gating mode %q", s)
}

// EffectiveThreshold raises the base threshold as sensitivity drops:
// sensitivity 1 keeps it, sensitivity 0 doubles it.
func EffectiveThreshold(base, sensitivity float64) float64 {
	return base * (1 + (1 - clamp01(sensitivity)))
}

// Detector decides whether the local user is speaking.
type Detector struct {
	Mode        GatingMode
	Threshold   float64
	Sensitivity float64
}

// Speaking evaluates one frame. In push-to-talk mode the gate must be
// held and the threshold is halved.
func (d Detector) Speaking(level float64, gate bool) bool {
	eff := EffectiveThreshold(d.Threshold, d.Sensitivity)
	if d.Mode == ModePushToTalk {
		return gate && level > eff/2
	}
	return level > eff
}
