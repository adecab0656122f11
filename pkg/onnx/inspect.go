package onnx

import (
	"fmt"

	ort "github.com/yalue/onnxruntime_go"
)

// TensorInfo describes one model input or output. Negative dimensions are
// dynamic.
type TensorInfo struct {
	Name     string
	Shape    []int64
	DataType string
}

type ModelInfo struct {
	Path    string
	Inputs  []TensorInfo
	Outputs []TensorInfo
}

// Dimension is the last axis of the first output, the embedding length for
// speaker models, or 0 when it is dynamic.
func (m ModelInfo) Dimension() int {
	if len(m.Outputs) == 0 || len(m.Outputs[0].Shape) == 0 {
		return 0
	}
	if d := m.Outputs[0].Shape[len(m.Outputs[0].Shape)-1]; d > 0 {
		return int(d)
	}
	return 0
}

// Inspect reads the IO signature of the model at path. Init must have
// succeeded first.
func Inspect(path string) (ModelInfo, error) {
	inputs, outputs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return ModelInfo{}, fmt.Errorf("failed to get net info for %s: %w", path, err)
	}
	return ModelInfo{Path: path, Inputs: tensorInfos(inputs), Outputs: tensorInfos(outputs)}, nil
}

func tensorInfos(infos []ort.InputOutputInfo) []TensorInfo {
	out := make([]TensorInfo, len(infos))
	for i, info := range infos {
		out[i] = TensorInfo{
			Name:     info.Name,
			Shape:    append([]int64(nil), info.Dimensions...),
			DataType: info.DataType.String(),
		}
	}
	return out
}
