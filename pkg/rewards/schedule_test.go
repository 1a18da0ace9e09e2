package rewards

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLinearSchedule_StrictlyIncreasing(t *testing.T) {
	schedule := Linear{Base: 100, Step: 25}

	prev := uint64(0)
	for n := uint64(1); n <= 50; n++ {
		amount := schedule.Amount(n)
		assert.Greater(t, amount, prev, "amount for contribution %d must exceed the previous one", n)
		prev = amount
	}
}

func TestLinearSchedule_Amounts(t *testing.T) {
	schedule := Linear{Base: 100, Step: 25}

	assert.Equal(t, uint64(100), schedule.Amount(1))
	assert.Equal(t, uint64(125), schedule.Amount(2))
	assert.Equal(t, uint64(325), schedule.Amount(10))
	assert.Equal(t, uint64(0), schedule.Amount(0))
}

func TestTieredSchedule_StrictlyIncreasing(t *testing.T) {
	schedule := Tiered{
		Base:       50,
		Step:       10,
		Thresholds: []uint64{5, 10, 25},
		Bonus:      100,
	}

	prev := uint64(0)
	for n := uint64(1); n <= 100; n++ {
		amount := schedule.Amount(n)
		assert.Greater(t, amount, prev, "amount for contribution %d must exceed the previous one", n)
		prev = amount
	}
}

func TestTieredSchedule_BonusAppliedAtThresholds(t *testing.T) {
	schedule := Tiered{
		Base:       50,
		Step:       10,
		Thresholds: []uint64{3},
		Bonus:      100,
	}

	assert.Equal(t, uint64(50), schedule.Amount(1))
	assert.Equal(t, uint64(60), schedule.Amount(2))
	// Third contribution crosses the threshold: linear part plus the bonus.
	assert.Equal(t, uint64(170), schedule.Amount(3))
}

func TestDefaultSchedule(t *testing.T) {
	schedule := Default()

	first := schedule.Amount(1)
	second := schedule.Amount(2)
	assert.Greater(t, second, first)
}
