// Package postprocess repairs common OCR mistakes in extracted text with an
// ordered table of precompiled substitutions.
//
// Rules run in a fixed order: common corrections, document-specific rules
// (receipt and invoice, or form), then whitespace cleanup. Later rules rely on
// the normalizations of earlier ones. The whole table is reapplied until the
// text stops changing, so Process(Process(t)) == Process(t).
package postprocess

import (
	"regexp"
	"strings"

	"ocrpipe/internal/profile"
)

// maxPasses bounds the fixed-point loop.
const maxPasses = 16

type rule struct {
	name string
	re   *regexp.Regexp
	repl string
	fn   func(string) string
}

func (r rule) apply(s string) string {
	if r.fn != nil {
		return r.re.ReplaceAllStringFunc(s, r.fn)
	}
	return r.re.ReplaceAllString(s, r.repl)
}

// labelRule canonicalizes "label   value" and "label:value" to "LABEL: value".
// The match is only rewritten when a value follows on the same line.
type labelRule struct {
	re        *regexp.Regexp
	canonical func(string) string
}

func (r labelRule) apply(s string) string {
	locs := r.re.FindAllStringSubmatchIndex(s, -1)
	if locs == nil {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 2*len(locs))
	last := 0
	for _, loc := range locs {
		end := loc[1]
		if end >= len(s) || strings.ContainsRune(" \t\r\n,;:!?", rune(s[end])) {
			continue
		}
		b.WriteString(s[last:loc[0]])
		b.WriteString(r.canonical(s[loc[2]:loc[3]]))
		b.WriteString(": ")
		last = end
	}
	b.WriteString(s[last:])
	return b.String()
}

// Processor applies the correction tables.
type Processor struct {
	common     []rule
	receipt    []rule
	receiptLbl labelRule
	form       []rule
	formLbl    labelRule
	whitespace []rule
	chars      *strings.Replacer
}

// New compiles the rule tables.
func New() *Processor {
	return &Processor{
		common:     commonRules(),
		receipt:    receiptRules(),
		receiptLbl: labelRule{re: regexp.MustCompile(`(?i)\b(TOTAL|IVA|IMPUESTO|DESCUENTO|PROPINA|FECHA|HORA)\b[ \t]*:?[ \t]*`), canonical: strings.ToUpper},
		form:       formRules(),
		formLbl:    labelRule{re: regexp.MustCompile(`(?i)\b(NOMBRE|DIRECCI[OÓ]N|TEL[EÉ]FONO|EMAIL|C[EÉ]DULA|NIT|RUC|RFC)\b[ \t]*:?[ \t]*`), canonical: formLabel},
		whitespace: whitespaceRules(),
		chars:      strings.NewReplacer("\r\n", "\n", "\r", "\n", "\t", " "),
	}
}

var defaultProcessor = New()

// Process corrects text with the default processor.
func Process(text string, kind profile.Kind) string {
	return defaultProcessor.Process(text, kind)
}

// Process applies every table for kind until the text reaches a fixed point.
func (p *Processor) Process(text string, kind profile.Kind) string {
	if text == "" {
		return ""
	}
	for i := 0; i < maxPasses; i++ {
		next := p.pass(text, kind)
		if next == text {
			break
		}
		text = next
	}
	return text
}

func (p *Processor) pass(s string, kind profile.Kind) string {
	s = p.chars.Replace(s)
	for _, r := range p.common {
		s = r.apply(s)
	}
	switch kind {
	case profile.Receipt, profile.Invoice:
		for _, r := range p.receipt {
			s = r.apply(s)
		}
		s = p.receiptLbl.apply(s)
	case profile.Form:
		for _, r := range p.form {
			s = r.apply(s)
		}
		s = p.formLbl.apply(s)
	}
	for _, r := range p.whitespace {
		s = r.apply(s)
	}
	return strings.TrimSpace(s)
}

var (
	digitLetters = strings.NewReplacer("O", "0", "l", "1", "I", "1", "S", "5", "B", "8", "Z", "2", "G", "6")
	dateLetters  = strings.NewReplacer("O", "0", "I", "1", "l", "1")
	tokenFixes   = map[string]string{"rn": "m", "vv": "w", "ii": "u", "cl": "d"}
)

func isDigit(r rune) bool { return r >= '0' && r <= '9' }

func isConfusable(r rune) bool { return strings.ContainsRune("OlISBZG", r) }

// digitLetterToken reads confusable letters next to a digit as digits. A run
// of them is rewritten when it follows a digit and ends at a digit or the end
// of the word, or when it is a single letter opening the word before a digit.
// Runs touching any other letter are kept, so "ISO9001" survives while "1OO"
// and "O5" become numbers. Rewritten runs only border digits or word edges,
// so a second pass finds nothing new.
func digitLetterToken(tok string) string {
	rs := []rune(tok)
	changed := false
	for i := 0; i < len(rs); {
		if !isConfusable(rs[i]) {
			i++
			continue
		}
		j := i
		for j < len(rs) && isConfusable(rs[j]) {
			j++
		}
		afterDigit := i > 0 && isDigit(rs[i-1])
		beforeDigit := j < len(rs) && isDigit(rs[j])
		if (afterDigit && (beforeDigit || j == len(rs))) || (i == 0 && j == 1 && beforeDigit) {
			for k := i; k < j; k++ {
				rs[k] = []rune(digitLetters.Replace(string(rs[k])))[0]
			}
			changed = true
		}
		i = j
	}
	if !changed {
		return tok
	}
	return string(rs)
}

func commonRules() []rule {
	return []rule{
		{name: "digit_letters", re: regexp.MustCompile(`[\p{L}\p{N}]+`), fn: digitLetterToken},
		{name: "split_tokens", re: regexp.MustCompile(`\S+`), fn: func(tok string) string {
			if fix, ok := tokenFixes[tok]; ok {
				return fix
			}
			return tok
		}},
		{name: "open_brace", re: regexp.MustCompile(`\{`), repl: "("},
		{name: "close_brace", re: regexp.MustCompile(`\}`), repl: ")"},
		{name: "space_before_punct", re: regexp.MustCompile(`[ \t]+([,;:!?])`), repl: "${1}"},
		{name: "ellipsis", re: regexp.MustCompile(`\.{4,}`), repl: "..."},
		{name: "bang", re: regexp.MustCompile(`!{2,}`), repl: "!"},
		{name: "question", re: regexp.MustCompile(`\?{2,}`), repl: "?"},
		{name: "subtotal", re: regexp.MustCompile(`\bSUB[ \t-]?T[O0]T[A4]L\b`), repl: "SUBTOTAL"},
		{name: "total", re: regexp.MustCompile(`\bT[O0]T[A4]L\b`), repl: "TOTAL"},
		{name: "efectivo", re: regexp.MustCompile(`\bEFECT[I1l]V[O0]\b`), repl: "EFECTIVO"},
		{name: "cambio", re: regexp.MustCompile(`\bCAMB[I1l][O0]\b`), repl: "CAMBIO"},
		{name: "iva", re: regexp.MustCompile(`\b[1lI]VA\b`), repl: "IVA"},
	}
}

func receiptRules() []rule {
	return []rule{
		{name: "sol_sign", re: regexp.MustCompile(`\bS/\.?`), repl: "$$"},
		{name: "currency_space", re: regexp.MustCompile(`([$€])[ \t]+([0-9])`), repl: "${1}${2}"},
		{name: "amount_space_euro", re: regexp.MustCompile(`([0-9])[ \t]+€`), repl: "${1}€"},
		{name: "european_thousands", re: regexp.MustCompile(`\b[0-9]{1,3}(?:\.[0-9]{3})+,[0-9]{2}\b`), fn: func(m string) string {
			m = strings.ReplaceAll(m, ".", "")
			return strings.Replace(m, ",", ".", 1)
		}},
		{name: "decimal_comma", re: regexp.MustCompile(`\b([0-9]+),([0-9]{2})\b`), repl: "${1}.${2}"},
		{name: "thousands_comma", re: regexp.MustCompile(`\b[0-9]{1,3}(?:,[0-9]{3})+\b`), fn: func(m string) string {
			return strings.ReplaceAll(m, ",", "")
		}},
		{name: "date_digits", re: regexp.MustCompile(`\b([0-9OIl]{1,2})[ \t]*([/-])[ \t]*([0-9OIl]{1,2})[ \t]*([/-])[ \t]*([0-9OIl]{2,4})\b`), fn: fixDate},
	}
}

var dateParts = regexp.MustCompile(`^([0-9OIl]{1,2})[ \t]*([/-])[ \t]*([0-9OIl]{1,2})[ \t]*([/-])[ \t]*([0-9OIl]{2,4})$`)

func fixDate(m string) string {
	if !strings.ContainsAny(m, "0123456789") {
		return m
	}
	p := dateParts.FindStringSubmatch(m)
	if p == nil {
		return m
	}
	return dateLetters.Replace(p[1]) + p[2] + dateLetters.Replace(p[3]) + p[4] + dateLetters.Replace(p[5])
}

func formRules() []rule {
	return []rule{
		{name: "checked_box", re: regexp.MustCompile(`\[[ \t]*[xX][ \t]*\]`), repl: "☑"},
		{name: "empty_box", re: regexp.MustCompile(`\[[ \t]*\]`), repl: "☐"},
	}
}

var formLabels = map[string]string{
	"NOMBRE":    "NOMBRE",
	"DIRECCION": "DIRECCIÓN",
	"DIRECCIÓN": "DIRECCIÓN",
	"TELEFONO":  "TELÉFONO",
	"TELÉFONO":  "TELÉFONO",
	"EMAIL":     "EMAIL",
	"CEDULA":    "CÉDULA",
	"CÉDULA":    "CÉDULA",
	"NIT":       "NIT",
	"RUC":       "RUC",
	"RFC":       "RFC",
}

func formLabel(s string) string {
	up := strings.ToUpper(s)
	if c, ok := formLabels[up]; ok {
		return c
	}
	return up
}

func whitespaceRules() []rule {
	return []rule{
		{name: "pipes", re: regexp.MustCompile(`\|{2,}`), repl: ""},
		{name: "underscores", re: regexp.MustCompile(`_{3,}`), repl: ""},
		{name: "carets", re: regexp.MustCompile(`\^+`), repl: ""},
		{name: "tildes", re: regexp.MustCompile(`~+`), repl: ""},
		{name: "spaces", re: regexp.MustCompile(` {3,}`), repl: "  "},
		{name: "trim_lines", re: regexp.MustCompile(`(?m)^[ \t]+|[ \t]+$`), repl: ""},
		{name: "blank_lines", re: regexp.MustCompile(`\n{3,}`), repl: "\n\n"},
	}
}
