package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMatrix(t *testing.T, counts [][]int) *ConfusionMatrix {
	t.Helper()
	ci, err := NewClassIndex([]string{"cats", "dogs"})
	require.NoError(t, err)
	m := NewConfusionMatrix(ci)
	for truth, row := range counts {
		for predicted, n := range row {
			for i := 0; i < n; i++ {
				require.NoError(t, m.Add(truth, predicted))
			}
		}
	}
	return m
}

func TestConfusionMatrix_Sums(t *testing.T) {
	m := newTestMatrix(t, [][]int{{8, 2}, {1, 9}})

	assert.Equal(t, 10, m.RowSum(0))
	assert.Equal(t, 10, m.RowSum(1))
	assert.Equal(t, 9, m.ColSum(0))
	assert.Equal(t, 11, m.ColSum(1))
	assert.Equal(t, 20, m.Total())
	assert.Equal(t, 17, m.Correct())
}

func TestConfusionMatrix_AddOutOfRange(t *testing.T) {
	m := newTestMatrix(t, nil)
	assert.Error(t, m.Add(2, 0))
	assert.Error(t, m.Add(0, -1))
	assert.Equal(t, 0, m.Total())
}

func TestConfusionMatrix_Report(t *testing.T) {
	m := newTestMatrix(t, [][]int{{8, 2}, {1, 9}})
	report := m.Report()

	require.Len(t, report.Classes, 2)
	assert.InDelta(t, 0.85, report.Accuracy, 1e-9)
	assert.Equal(t, 20, report.Total)

	cats := report.Classes[0]
	assert.Equal(t, "cats", cats.Label)
	assert.InDelta(t, 8.0/9.0, cats.Precision, 1e-9)
	assert.InDelta(t, 0.8, cats.Recall, 1e-9)
	assert.InDelta(t, 2*(8.0/9.0)*0.8/((8.0/9.0)+0.8), cats.F1, 1e-9)
	assert.Equal(t, 10, cats.Support)

	dogs := report.Classes[1]
	assert.InDelta(t, 9.0/11.0, dogs.Precision, 1e-9)
	assert.InDelta(t, 0.9, dogs.Recall, 1e-9)

	assert.InDelta(t, (cats.Precision+dogs.Precision)/2, report.MacroAvg.Precision, 1e-9)
	assert.InDelta(t, (cats.Recall+dogs.Recall)/2, report.WeightedAvg.Recall, 1e-9)
}

func TestConfusionMatrix_ReportZeroDenominators(t *testing.T) {
	// Every sample predicted as cats: dogs precision has no predictions.
	m := newTestMatrix(t, [][]int{{5, 0}, {5, 0}})
	report := m.Report()

	dogs := report.Classes[1]
	assert.Equal(t, 0.0, dogs.Precision)
	assert.Equal(t, 0.0, dogs.Recall)
	assert.Equal(t, 0.0, dogs.F1)

	empty := newTestMatrix(t, nil).Report()
	assert.Equal(t, 0.0, empty.Accuracy)
	assert.Equal(t, 0.0, empty.WeightedAvg.F1)
}
