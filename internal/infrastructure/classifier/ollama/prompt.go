package ollama

import (
	"strings"

	"github.com/kirillkom/neurascan/internal/core/domain"
)

func buildClassificationPrompt(image domain.ScanImage) string {
	labels := make([]string, 0, len(domain.KnownTypes))
	for _, t := range domain.KnownTypes {
		labels = append(labels, string(t))
	}

	return `You are assisting with a brain MRI screening demo.
Look at the attached scan and return strict JSON object with keys:
type (one of ` + strings.Join(labels, ", ") + `), confidence (number from 0 to 1).
Use "unknown" when the image is not a brain MRI or you cannot decide.
No markdown, no extra keys.

File name: ` + image.Filename
}
