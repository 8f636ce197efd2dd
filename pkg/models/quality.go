package models

// Quality grades
const (
	GradeA = "A"
	GradeB = "B"
	GradeC = "C"
	GradeD = "D"
	GradeF = "F"
)

// QualityReport is produced once per image by the quality assessor.
type QualityReport struct {
	BlurScore       float64  `json:"blur_score"`     // Laplacian variance, higher is sharper
	Brightness      float64  `json:"brightness"`     // Mean luminance 0-255
	Contrast        float64  `json:"contrast"`       // Luminance standard deviation
	NoiseLevel      float64  `json:"noise_level"`    // Sobel magnitude stdev / mean
	TextDensity     float64  `json:"text_density"`   // Dilated binary foreground ratio 0-1
	EdgeDensity     float64  `json:"edge_density"`   // Canny edge pixel ratio 0-1
	Resolution      Size     `json:"resolution"`     // Original image size
	HistogramPeak   int      `json:"histogram_peak"` // Most populated luminance bin
	QualityScore    float64  `json:"quality_score"`  // Weighted sum 0-100 behind the grade
	IsAcceptable    bool     `json:"is_acceptable"`
	Grade           string   `json:"grade"`
	Recommendations []string `json:"recommendations"`
}
