package profile

import (
	"math/rand"
	"testing"
)

func TestEveryKindRegistered(t *testing.T) {
	for _, k := range Kinds {
		p := Lookup(k)
		if p.Kind != k {
			t.Errorf("Lookup(%s) returned %s", k, p.Kind)
		}
		if b := p.Preprocessing.ThresholdBlockSize; b < 3 || b%2 == 0 {
			t.Errorf("%s: block size %d must be odd and at least 3", k, b)
		}
		if p.Preprocessing.MorphologyIterations < 1 {
			t.Errorf("%s: morphology iterations must be at least 1", k)
		}
		if p.OCR.PSM < 0 || p.OCR.PSM > 13 || p.OCR.OEM < 0 || p.OCR.OEM > 3 {
			t.Errorf("%s: engine modes out of range: %+v", k, p.OCR)
		}
		if p.OCR.Languages == "" {
			t.Errorf("%s: languages must be set", k)
		}
	}
	if len(All()) != len(Kinds) {
		t.Errorf("All() returned %d profiles", len(All()))
	}
}

func TestLookupName(t *testing.T) {
	tests := []struct {
		name string
		want Kind
	}{
		{"receipt", Receipt},
		{"RECEIPT", Receipt},
		{"  Invoice ", Invoice},
		{"Handwritten", Handwritten},
		{"", General},
		{"passport", General},
		{"receipt2", General},
	}
	for _, tt := range tests {
		if got := LookupName(tt.name).Kind; got != tt.want {
			t.Errorf("LookupName(%q) = %s, want %s", tt.name, got, tt.want)
		}
	}
	if got := Lookup(Kind("nope")).Kind; got != General {
		t.Errorf("Lookup(unknown) = %s, want general", got)
	}
}

// Any string resolves to some registered profile.
func TestLookupIsTotal(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 500; i++ {
		b := make([]byte, rng.Intn(24))
		for j := range b {
			b[j] = byte(rng.Intn(256))
		}
		p := LookupName(string(b))
		if _, ok := registry[p.Kind]; !ok {
			t.Fatalf("LookupName(%q) returned unregistered kind %q", b, p.Kind)
		}
	}
}

func TestLookupReturnsCopies(t *testing.T) {
	p := Lookup(Receipt)
	p.OCR.Languages = "xxx"
	p.Preprocessing.ThresholdC = 99
	if q := Lookup(Receipt); q.OCR.Languages == "xxx" || q.Preprocessing.ThresholdC == 99 {
		t.Errorf("registry must not be mutable through returned profiles")
	}
}
