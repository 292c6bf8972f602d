package predict

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// modelFloorDays is the lowest gap the regression model may output.
const modelFloorDays = 7

// Artifact is the pre-trained gap-regression model: a linear regression
// over (threat category code, severity code) plus the two label encoders
// mapping textual labels to the codes the model was trained with. It is
// loaded once at startup and never mutated, so unsynchronized concurrent
// reads are safe.
type Artifact struct {
	ModelName       string    `json:"model"`
	Intercept       float64   `json:"intercept"`
	Coefficients    []float64 `json:"coefficients"`
	ThreatClasses   []string  `json:"threat_classes"`
	SeverityClasses []string  `json:"severity_classes"`
}

// LoadArtifact reads prediction_model.json from dir. A missing or
// unreadable artifact is an error; callers degrade to pure deterministic
// prediction in that case.
func LoadArtifact(dir string) (*Artifact, error) {
	data, err := os.ReadFile(filepath.Join(dir, "prediction_model.json"))
	if err != nil {
		return nil, fmt.Errorf("predict: read model artifact: %w", err)
	}

	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("predict: decode model artifact: %w", err)
	}
	if len(a.Coefficients) != 2 {
		return nil, fmt.Errorf("predict: model artifact has %d coefficients, want 2", len(a.Coefficients))
	}
	if len(a.ThreatClasses) == 0 || len(a.SeverityClasses) == 0 {
		return nil, fmt.Errorf("predict: model artifact has empty encoder classes")
	}
	if a.ModelName == "" {
		a.ModelName = "gap-regression"
	}
	return &a, nil
}

// PredictGapDays runs the regression for the given labels. Labels outside
// the encoders' training classes are an error; the model's own output is
// floored at seven days.
func (a *Artifact) PredictGapDays(threatType, severity string) (int, error) {
	ti, ok := indexOf(a.ThreatClasses, threatType)
	if !ok {
		return 0, fmt.Errorf("predict: threat type %q not in encoder classes", threatType)
	}
	si, ok := indexOf(a.SeverityClasses, severity)
	if !ok {
		return 0, fmt.Errorf("predict: severity %q not in encoder classes", severity)
	}

	days := int(a.Intercept + a.Coefficients[0]*float64(ti) + a.Coefficients[1]*float64(si))
	if days < modelFloorDays {
		days = modelFloorDays
	}
	return days, nil
}

func indexOf(classes []string, label string) (int, bool) {
	for i, c := range classes {
		if c == label {
			return i, true
		}
	}
	return 0, false
}
