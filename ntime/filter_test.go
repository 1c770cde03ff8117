package ntime

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFilterIgnoresDuplicateSource(t *testing.T) {
	f := New()
	f.Add("1.2.3.4", 100)
	f.Add("1.2.3.4", 500) // same source, ignored
	require.Equal(t, int64(0), f.Offset())
}

func TestFilterNeedsFiveOddSamples(t *testing.T) {
	f := New()
	for i := 0; i < 3; i++ {
		f.Add(fmt.Sprintf("peer-%d", i), 300)
	}
	require.Equal(t, int64(0), f.Offset(), "fewer than 5 values (seeded zero plus 3 samples) never updates offset")

	f.Add("peer-3", 300)
	require.Equal(t, int64(300), f.Offset())
}

func TestFilterDistrustsOutlierBeyondCap(t *testing.T) {
	f := New()
	for i := 0; i < 5; i++ {
		f.Add(fmt.Sprintf("peer-%d", i), MaxTimeAdjustment+1000)
	}
	require.Equal(t, int64(0), f.Offset())
}

func TestFilterClampsNegativeOffsets(t *testing.T) {
	f := New()
	for i := 0; i < 5; i++ {
		f.Add(fmt.Sprintf("peer-%d", i), -500)
	}
	require.Equal(t, int64(0), f.Offset())
}
