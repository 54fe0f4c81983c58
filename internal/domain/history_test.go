package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTimeSeriesGranularity_IsValid(t *testing.T) {
	valid := []TimeSeriesGranularity{GranularityHour, GranularityDay, GranularityWeek, GranularityMonth}
	for _, g := range valid {
		assert.True(t, g.IsValid(), "%s should be valid", g)
	}

	assert.False(t, TimeSeriesGranularity("fortnight").IsValid())
	assert.False(t, TimeSeriesGranularity("").IsValid())
}
