package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/spf13/cobra"
	"ocrpipe/internal/imageio"
	"ocrpipe/internal/logger"
	"ocrpipe/internal/quality"
)

var assessCmd = &cobra.Command{
	Use:   "assess [image]",
	Short: "Report image quality metrics and recommendations",
	Long: `Measure blur, brightness, contrast, noise, text density and edge density
of an image, grade it A-F and list recommendations.

With --correct, the auto-corrections the pipeline would apply are written to
the given path and the corrected image is assessed as well.`,
	Example: `  ocrpipe assess receipt.jpg
  ocrpipe assess dark.png --json
  ocrpipe assess dark.png --correct fixed.png`,
	Args: cobra.ExactArgs(1),
	RunE: runAssess,
}

func init() {
	rootCmd.AddCommand(assessCmd)

	assessCmd.Flags().Bool("json", false, "Output the report as JSON")
	assessCmd.Flags().String("correct", "", "Write the auto-corrected image to this path")
}

func runAssess(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("assess-cmd")

	jsonOutput, _ := cmd.Flags().GetBool("json")
	correctPath, _ := cmd.Flags().GetString("correct")
	path := args[0]

	img, err := imageio.Load(path)
	if err != nil {
		return handleExtractError(err, log)
	}

	assessor := quality.NewAssessor()
	report := assessor.Assess(img)
	out := map[string]any{"file": path, "quality": report}

	if correctPath != "" {
		corrected, steps := quality.NewCorrector().Correct(img, report)
		if len(steps) == 0 {
			log.Info().Msg("No correction needed")
		}
		if err := imaging.Save(corrected, correctPath); err != nil {
			return fmt.Errorf("failed to write corrected image: %w", err)
		}
		out["correction_steps"] = steps
		out["corrected_quality"] = assessor.Assess(corrected)
		log.Info().Strs("steps", steps).Str("output_file", correctPath).Msg("Corrected image written")
	}

	if jsonOutput {
		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to create JSON output: %w", err)
		}
		_, err = os.Stdout.Write(append(data, '\n'))
		return err
	}

	fmt.Printf("Image: %s (%dx%d)\n", path, report.Resolution.Width, report.Resolution.Height)
	fmt.Printf("Grade: %s  score %.1f  acceptable: %v\n", report.Grade, report.QualityScore, report.IsAcceptable)
	fmt.Printf("Blur: %.1f  Brightness: %.1f  Contrast: %.1f  Noise: %.2f\n",
		report.BlurScore, report.Brightness, report.Contrast, report.NoiseLevel)
	fmt.Printf("Text density: %.3f  Edge density: %.3f\n", report.TextDensity, report.EdgeDensity)
	fmt.Println("Recommendations:")
	for _, r := range report.Recommendations {
		fmt.Printf("  - %s\n", r)
	}
	if steps, ok := out["correction_steps"].([]string); ok {
		fmt.Printf("Correction steps: %s\n", strings.Join(steps, ", "))
	}
	return nil
}
