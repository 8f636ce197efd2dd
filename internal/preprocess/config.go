package preprocess

// Config is the preprocessing half of a document profile.
type Config struct {
	ScaleMinHeight         int     `json:"scale_min_height"`
	EnableDeskew           bool    `json:"enable_deskew"`
	EnableBackgroundRemove bool    `json:"enable_background_removal"`
	DenoiseStrength        int     `json:"denoise_strength"`
	EnableCLAHE            bool    `json:"enable_clahe"`
	CLAHEClipLimit         float64 `json:"clahe_clip_limit"`
	ThresholdBlockSize     int     `json:"adaptive_threshold_block_size"`
	ThresholdC             int     `json:"adaptive_threshold_c"`
	EnableMorphology       bool    `json:"enable_morphology"`
	MorphologyKernel       [2]int  `json:"morphology_kernel"`
	MorphologyIterations   int     `json:"morphology_iterations"`
}

// Normalized returns a copy with the block size forced odd and at least 3, and
// the morphology kernel and iteration count at least 1.
func (c Config) Normalized() Config {
	if c.ThresholdBlockSize < 3 {
		c.ThresholdBlockSize = 3
	}
	if c.ThresholdBlockSize%2 == 0 {
		c.ThresholdBlockSize++
	}
	if c.MorphologyKernel[0] < 1 {
		c.MorphologyKernel[0] = 1
	}
	if c.MorphologyKernel[1] < 1 {
		c.MorphologyKernel[1] = 1
	}
	if c.MorphologyIterations < 1 {
		c.MorphologyIterations = 1
	}
	if c.CLAHEClipLimit <= 0 {
		c.CLAHEClipLimit = 2.0
	}
	return c
}
