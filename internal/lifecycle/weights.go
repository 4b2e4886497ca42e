package lifecycle

// Weights blends the four salience signals. A normalized Weights always
// sums to 1. The value is threaded explicitly through every scoring call;
// there is no ambient global.
type Weights struct {
	Activation float64 `yaml:"activation" json:"activation"`
	Emotion    float64 `yaml:"emotion" json:"emotion"`
	Narrative  float64 `yaml:"narrative" json:"narrative"`
	Relational float64 `yaml:"relational" json:"relational"`
}

// DefaultWeights returns the standard signal blend.
func DefaultWeights() Weights {
	return Weights{
		Activation: 0.40,
		Emotion:    0.25,
		Narrative:  0.20,
		Relational: 0.15,
	}
}

// Normalize scales the weights so they sum to 1. Non-positive totals
// fall back to the defaults rather than dividing by zero.
func (w Weights) Normalize() Weights {
	sum := w.Activation + w.Emotion + w.Narrative + w.Relational
	if sum <= 0 {
		return DefaultWeights()
	}
	return Weights{
		Activation: w.Activation / sum,
		Emotion:    w.Emotion / sum,
		Narrative:  w.Narrative / sum,
		Relational: w.Relational / sum,
	}
}

// Adapt nudges each weight by the given delta, clamped to maxStep per
// call, then renormalizes. Feedback can tune the blend but never swing it.
func (w Weights) Adapt(delta Weights, maxStep float64) Weights {
	if maxStep <= 0 {
		maxStep = 0.05
	}
	step := func(current, d float64) float64 {
		if d > maxStep {
			d = maxStep
		}
		if d < -maxStep {
			d = -maxStep
		}
		v := current + d
		if v < 0.01 {
			v = 0.01 // a signal can be de-emphasized but never silenced
		}
		return v
	}
	adjusted := Weights{
		Activation: step(w.Activation, delta.Activation),
		Emotion:    step(w.Emotion, delta.Emotion),
		Narrative:  step(w.Narrative, delta.Narrative),
		Relational: step(w.Relational, delta.Relational),
	}
	return adjusted.Normalize()
}
