// Package profile holds the per-document-kind bundles of preprocessing and
// OCR settings. The registry is filled at init and never changes afterwards.
package profile

import (
	"maps"
	"strings"

	"ocrpipe/internal/ocr"
	"ocrpipe/internal/preprocess"
)

// Kind identifies a document profile.
type Kind string

// Document kinds
const (
	Receipt     Kind = "receipt"
	Invoice     Kind = "invoice"
	Document    Kind = "document"
	Form        Kind = "form"
	Handwritten Kind = "handwritten"
	Screenshot  Kind = "screenshot"
	Photo       Kind = "photo"
	General     Kind = "general"
)

// Kinds lists every registered kind in a stable order.
var Kinds = []Kind{Receipt, Invoice, Document, Form, Handwritten, Screenshot, Photo, General}

// Profile is one named bundle of settings.
type Profile struct {
	Kind          Kind              `json:"kind"`
	Description   string            `json:"description"`
	Preprocessing preprocess.Config `json:"preprocessing"`
	OCR           ocr.Config        `json:"ocr"`
}

var registry = map[Kind]Profile{}

func register(p Profile) {
	p.Preprocessing = p.Preprocessing.Normalized()
	registry[p.Kind] = p
}

func init() {
	register(Profile{
		Kind:        Receipt,
		Description: "Thermal-paper receipts: narrow columns, faint print, amounts",
		Preprocessing: preprocess.Config{
			ScaleMinHeight:       1000,
			EnableDeskew:         true,
			EnableCLAHE:          true,
			CLAHEClipLimit:       2.0,
			ThresholdBlockSize:   31,
			ThresholdC:           10,
			EnableMorphology:     true,
			MorphologyKernel:     [2]int{1, 1},
			MorphologyIterations: 1,
		},
		OCR: ocr.Config{
			PSM:                     ocr.PSMSingleBlock,
			OEM:                     ocr.OEMLSTM,
			Languages:               "eng+spa",
			PreserveInterwordSpaces: true,
		},
	})
	register(Profile{
		Kind:        Invoice,
		Description: "Printed invoices with headers, tables and totals",
		Preprocessing: preprocess.Config{
			ScaleMinHeight:         1200,
			EnableDeskew:           true,
			EnableBackgroundRemove: true,
			EnableCLAHE:            true,
			CLAHEClipLimit:         2.0,
			ThresholdBlockSize:     25,
			ThresholdC:             8,
			EnableMorphology:       true,
			MorphologyKernel:       [2]int{1, 1},
			MorphologyIterations:   1,
		},
		OCR: ocr.Config{
			PSM:                     ocr.PSMSingleColumn,
			OEM:                     ocr.OEMLSTM,
			Languages:               "eng+spa",
			PreserveInterwordSpaces: true,
		},
	})
	register(Profile{
		Kind:        Document,
		Description: "Clean printed pages",
		Preprocessing: preprocess.Config{
			ScaleMinHeight:     1000,
			EnableDeskew:       true,
			EnableCLAHE:        true,
			CLAHEClipLimit:     1.5,
			ThresholdBlockSize: 31,
			ThresholdC:         15,
		},
		OCR: ocr.Config{
			PSM:       ocr.PSMAuto,
			OEM:       ocr.OEMLSTM,
			Languages: "eng+spa",
		},
	})
	register(Profile{
		Kind:        Form,
		Description: "Forms with labels, boxes and checkboxes",
		Preprocessing: preprocess.Config{
			ScaleMinHeight:       1200,
			EnableDeskew:         true,
			EnableCLAHE:          true,
			CLAHEClipLimit:       2.0,
			ThresholdBlockSize:   21,
			ThresholdC:           10,
			EnableMorphology:     true,
			MorphologyKernel:     [2]int{1, 1},
			MorphologyIterations: 1,
		},
		OCR: ocr.Config{
			PSM:                     ocr.PSMSingleColumn,
			OEM:                     ocr.OEMLSTM,
			Languages:               "eng+spa",
			PreserveInterwordSpaces: true,
		},
	})
	register(Profile{
		Kind:        Handwritten,
		Description: "Handwritten notes; heavier denoise and thicker strokes",
		Preprocessing: preprocess.Config{
			ScaleMinHeight:         1500,
			EnableDeskew:           true,
			EnableBackgroundRemove: true,
			DenoiseStrength:        10,
			EnableCLAHE:            true,
			CLAHEClipLimit:         3.0,
			ThresholdBlockSize:     41,
			ThresholdC:             12,
			EnableMorphology:       true,
			MorphologyKernel:       [2]int{2, 2},
			MorphologyIterations:   1,
		},
		OCR: ocr.Config{
			PSM:       ocr.PSMSingleBlock,
			OEM:       ocr.OEMLSTM,
			Languages: "eng+spa",
		},
	})
	register(Profile{
		Kind:        Screenshot,
		Description: "Screen captures: sharp, unskewed, often light-on-dark",
		Preprocessing: preprocess.Config{
			ThresholdBlockSize: 15,
			ThresholdC:         5,
		},
		OCR: ocr.Config{
			PSM:                     ocr.PSMAuto,
			OEM:                     ocr.OEMLSTM,
			Languages:               "eng+spa",
			PreserveInterwordSpaces: true,
		},
	})
	register(Profile{
		Kind:        Photo,
		Description: "Camera photos of paper: uneven light, perspective, noise",
		Preprocessing: preprocess.Config{
			ScaleMinHeight:         1200,
			EnableDeskew:           true,
			EnableBackgroundRemove: true,
			DenoiseStrength:        7,
			EnableCLAHE:            true,
			CLAHEClipLimit:         3.0,
			ThresholdBlockSize:     35,
			ThresholdC:             10,
			EnableMorphology:       true,
			MorphologyKernel:       [2]int{2, 2},
			MorphologyIterations:   1,
		},
		OCR: ocr.Config{
			PSM:       ocr.PSMAuto,
			OEM:       ocr.OEMLSTM,
			Languages: "eng+spa",
		},
	})
	register(Profile{
		Kind:        General,
		Description: "Fallback for unknown content",
		Preprocessing: preprocess.Config{
			ScaleMinHeight:     1000,
			EnableDeskew:       true,
			EnableCLAHE:        true,
			CLAHEClipLimit:     2.0,
			ThresholdBlockSize: 31,
			ThresholdC:         10,
		},
		OCR: ocr.Config{
			PSM:       ocr.PSMAuto,
			OEM:       ocr.OEMLSTM,
			Languages: "eng+spa",
		},
	})
}

// Lookup returns the profile for kind, or the general profile.
func Lookup(kind Kind) Profile {
	p, ok := registry[kind]
	if !ok {
		p = registry[General]
	}
	p.OCR.Params = maps.Clone(p.OCR.Params)
	return p
}

// ParseKind normalizes name and reports whether it names a registered kind.
func ParseKind(name string) (Kind, bool) {
	k := Kind(strings.ToLower(strings.TrimSpace(name)))
	_, ok := registry[k]
	return k, ok
}

// LookupName resolves a free-form profile name case-insensitively, falling
// back to the general profile.
func LookupName(name string) Profile {
	k, ok := ParseKind(name)
	if !ok {
		k = General
	}
	return Lookup(k)
}

// All returns every profile in Kinds order.
func All() []Profile {
	out := make([]Profile, 0, len(Kinds))
	for _, k := range Kinds {
		out = append(out, Lookup(k))
	}
	return out
}
