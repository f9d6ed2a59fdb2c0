package detector

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestAveragePathLength(t *testing.T) {
	assert.Equal(t, 0.0, averagePathLength(0))
	assert.Equal(t, 0.0, averagePathLength(1))
	assert.Equal(t, 1.0, averagePathLength(2))
	assert.InDelta(t, 10.24, averagePathLength(256), 0.01)
}

func TestForestIsolatesOutlier(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	X := make([][]float64, 0, 500)
	for i := 0; i < 500; i++ {
		X = append(X, []float64{rng.NormFloat64(), rng.NormFloat64()})
	}

	f := fitForest(X, forestParams{trees: 100, sampleSize: 256, contamination: 0.05}, rng)

	inlier, err := f.decision([]float64{0, 0})
	require.NoError(t, err)
	outlier, err := f.decision([]float64{8, -8})
	require.NoError(t, err)

	assert.Greater(t, inlier, 0.0)
	assert.Less(t, outlier, 0.0)
}

func TestForestSmallSample(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	X := [][]float64{{1, 1}, {1, 1}, {1, 1}, {2, 2}}

	f := fitForest(X, forestParams{trees: 10, sampleSize: 256, contamination: 0.1}, rng)
	assert.Equal(t, 4, f.sampleSize)

	_, err := f.decision([]float64{1})
	assert.ErrorIs(t, err, ErrFeatureMismatch)
}

func TestStandardScaler(t *testing.T) {
	X := mat.NewDense(4, 2, []float64{
		1, 5,
		2, 5,
		3, 5,
		4, 5,
	})
	sc := FitScaler(X)

	assert.InDelta(t, 2.5, sc.Mean[0], 1e-9)
	assert.InDelta(t, 1.118034, sc.Scale[0], 1e-6)
	assert.Equal(t, 1.0, sc.Scale[1], "constant column keeps unit scale")

	out, err := sc.Transform([]float64{2.5, 5})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0, 0}, out, 1e-9)

	_, err = sc.Transform([]float64{1, 2, 3})
	assert.ErrorIs(t, err, ErrFeatureMismatch)
}

func TestGenerateTrainingData(t *testing.T) {
	data := GenerateTrainingData(1000, rand.New(rand.NewSource(6)))
	require.Len(t, data, 1050)

	for i, s := range data[:1000] {
		assert.True(t, s.Speed >= 0 && s.Speed <= 120, "normal %d speed %f", i, s.Speed)
		assert.True(t, s.RPM >= 800 && s.RPM <= 4000, "normal %d rpm %f", i, s.RPM)
		assert.True(t, s.EngineTemp >= 80 && s.EngineTemp <= 110, "normal %d temp %f", i, s.EngineTemp)
	}
	for i, s := range data[1000:] {
		assert.True(t, s.Speed >= 100 && s.Speed <= 150, "extreme %d speed %f", i, s.Speed)
		assert.True(t, s.RPM >= 4000 && s.RPM <= 6000, "extreme %d rpm %f", i, s.RPM)
		assert.Equal(t, 100.0, s.Throttle)
		assert.Equal(t, 100.0, s.Brake)
		assert.True(t, s.EngineTemp >= 110 && s.EngineTemp <= 130, "extreme %d temp %f", i, s.EngineTemp)
		assert.True(t, s.FuelLevel >= 0 && s.FuelLevel <= 5, "extreme %d fuel %f", i, s.FuelLevel)
	}

	assert.Empty(t, GenerateTrainingData(0, nil))
	assert.Len(t, GenerateTrainingData(10, nil), 10)
}

func TestFeatureMatrix(t *testing.T) {
	samples := GenerateTrainingData(3, rand.New(rand.NewSource(1)))
	X := FeatureMatrix(samples)

	r, c := X.Dims()
	assert.Equal(t, 3, r)
	assert.Equal(t, len(FeatureNames), c)
	assert.Equal(t, FeatureVector(samples[1]), mat.Row(nil, 1, X))
}
