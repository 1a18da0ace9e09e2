// Package rewards defines the token amounts issued to patients for research
// contributions. Schedules are policy: the exchange only requires that the
// amount strictly increases with the contribution count for a given
// (patient, researcher) pair.
package rewards

// Schedule computes the reward amount for the n-th contribution (n >= 1).
// Implementations must be strictly increasing in n.
type Schedule interface {
	Amount(contributionCount uint64) uint64
}

// Linear issues Base for the first contribution and grows by Step on each
// subsequent one.
type Linear struct {
	Base uint64
	Step uint64
}

// Amount implements Schedule.
func (l Linear) Amount(contributionCount uint64) uint64 {
	if contributionCount == 0 {
		return 0
	}
	return l.Base + l.Step*(contributionCount-1)
}

// Tiered multiplies a linear schedule once the count passes each threshold,
// rewarding sustained participation more steeply. Within and across tiers the
// amount remains strictly increasing as long as Step >= 1.
type Tiered struct {
	Base       uint64
	Step       uint64
	Thresholds []uint64 // ascending contribution counts where the bonus grows
	Bonus      uint64   // flat amount added per threshold passed
}

// Amount implements Schedule.
func (t Tiered) Amount(contributionCount uint64) uint64 {
	if contributionCount == 0 {
		return 0
	}
	amount := t.Base + t.Step*(contributionCount-1)
	for _, threshold := range t.Thresholds {
		if contributionCount >= threshold {
			amount += t.Bonus
		}
	}
	return amount
}

// Default is the policy used when no schedule is configured.
func Default() Schedule {
	return Linear{Base: 100, Step: 25}
}
