package ocr

import (
	"sort"
	"strconv"
	"strings"
)

// Page segmentation modes used by the profiles and strategies.
const (
	PSMOSDOnly      = 0
	PSMAutoOSD      = 1
	PSMAuto         = 3
	PSMSingleColumn = 4
	PSMSingleBlock  = 6
	PSMSingleLine   = 7
	PSMSingleWord   = 8
	PSMSparseText   = 11
	PSMSparseOSD    = 12
	PSMRawLine      = 13
)

// Engine modes.
const (
	OEMLegacy     = 0
	OEMLSTM       = 1
	OEMCombined   = 2
	OEMDefault    = 3
	maxPSM        = 13
	maxOEM        = 3
	defaultLangs  = "eng"
	preserveSpace = "preserve_interword_spaces"
)

// Config is the OCR half of a document profile.
type Config struct {
	PSM                     int               `json:"psm"`
	OEM                     int               `json:"oem"`
	Languages               string            `json:"languages"`
	PreserveInterwordSpaces bool              `json:"preserve_interword_spaces"`
	Params                  map[string]string `json:"additional_params,omitempty"`
	Whitelist               string            `json:"char_whitelist,omitempty"`
	Blacklist               string            `json:"char_blacklist,omitempty"`
}

// WithPSM returns a copy using the given page segmentation mode.
func (c Config) WithPSM(psm int) Config {
	c.PSM = psm
	return c
}

// WithLanguages returns a copy using langs, or c unchanged when langs is empty.
func (c Config) WithLanguages(langs string) Config {
	if strings.TrimSpace(langs) != "" {
		c.Languages = strings.TrimSpace(langs)
	}
	return c
}

// LanguageList splits the "eng+spa" form into its parts.
func (c Config) LanguageList() []string {
	langs := c.Languages
	if langs == "" {
		langs = defaultLangs
	}
	var out []string
	for _, l := range strings.Split(langs, "+") {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}

// Variables returns every engine variable the config sets, including the
// character lists and interword spacing.
func (c Config) Variables() map[string]string {
	vars := make(map[string]string, len(c.Params)+3)
	for k, v := range c.Params {
		vars[k] = v
	}
	if c.PreserveInterwordSpaces {
		vars[preserveSpace] = "1"
	}
	if c.Whitelist != "" {
		vars["tessedit_char_whitelist"] = c.Whitelist
	}
	if c.Blacklist != "" {
		vars["tessedit_char_blacklist"] = c.Blacklist
	}
	return vars
}

// Args renders the command line tokens understood by the tesseract binary,
// with variables in key order.
func (c Config) Args() []string {
	args := []string{
		"--psm", strconv.Itoa(clamp(c.PSM, 0, maxPSM)),
		"--oem", strconv.Itoa(clamp(c.OEM, 0, maxOEM)),
	}
	vars := c.Variables()
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "-c", k+"="+vars[k])
	}
	return args
}

// String renders Args as a single config string.
func (c Config) String() string {
	return strings.Join(c.Args(), " ")
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
