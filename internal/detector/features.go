package detector

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"vehicle-anomaly-monitor/internal/models"
)

// FeatureNames lists the model inputs in vector order
var FeatureNames = []string{"speed", "rpm", "throttle", "brake", "engine_temp", "fuel_level"}

// ErrFeatureMismatch is returned when a vector does not match the fitted width
var ErrFeatureMismatch = errors.New("feature dimension mismatch")

// FeatureVector extracts the fixed-order model inputs from a sample
func FeatureVector(s models.TelemetrySample) []float64 {
	return []float64{s.Speed, s.RPM, s.Throttle, s.Brake, s.EngineTemp, s.FuelLevel}
}

// FeatureMatrix stacks one feature vector per sample
func FeatureMatrix(samples []models.TelemetrySample) *mat.Dense {
	data := make([]float64, 0, len(samples)*len(FeatureNames))
	for _, s := range samples {
		data = append(data, FeatureVector(s)...)
	}
	return mat.NewDense(len(samples), len(FeatureNames), data)
}

// StandardScaler centres each feature on its training mean and scales it to
// unit population variance. Constant features keep a scale of 1.
type StandardScaler struct {
	Mean  []float64
	Scale []float64
}

// FitScaler computes per-column statistics of X
func FitScaler(X *mat.Dense) *StandardScaler {
	_, cols := X.Dims()
	sc := &StandardScaler{Mean: make([]float64, cols), Scale: make([]float64, cols)}
	for j := 0; j < cols; j++ {
		mean, std := stat.PopMeanStdDev(mat.Col(nil, j, X), nil)
		if std == 0 {
			std = 1
		}
		sc.Mean[j] = mean
		sc.Scale[j] = std
	}
	return sc
}

// Transform scales a single feature vector
func (sc *StandardScaler) Transform(x []float64) ([]float64, error) {
	if len(x) != len(sc.Mean) {
		return nil, fmt.Errorf("%w: got %d features, scaler fitted on %d", ErrFeatureMismatch, len(x), len(sc.Mean))
	}
	out := make([]float64, len(x))
	for j, v := range x {
		out[j] = (v - sc.Mean[j]) / sc.Scale[j]
	}
	return out, nil
}

// TransformMatrix scales every row of X
func (sc *StandardScaler) TransformMatrix(X *mat.Dense) ([][]float64, error) {
	rows, _ := X.Dims()
	out := make([][]float64, rows)
	for i := 0; i < rows; i++ {
		row, err := sc.Transform(mat.Row(nil, i, X))
		if err != nil {
			return nil, err
		}
		out[i] = row
	}
	return out, nil
}
