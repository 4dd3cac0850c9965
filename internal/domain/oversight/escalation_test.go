package oversight

import "testing"

func TestEscalation_Levels(t *testing.T) {
	t.Parallel()

	e := NewEscalation()

	tests := []struct {
		name          string
		confidence    float64
		wantLevel     EscalationLevel
		requiresHuman bool
	}{
		{"high", 0.95, EscalationNone, false},
		{"high boundary", 0.9, EscalationNone, false},
		{"medium", 0.8, EscalationNotify, false},
		{"medium boundary", 0.7, EscalationNotify, false},
		{"low", 0.6, EscalationReview, true},
		{"low boundary", 0.5, EscalationReview, true},
		{"very low", 0.3, EscalationApproval, true},
		{"zero", 0, EscalationApproval, true},
		{"full confidence", 1, EscalationNone, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d, err := e.Evaluate(tt.confidence, "a1", "files", "read")
			if err != nil {
				t.Fatalf("Evaluate(%v) error: %v", tt.confidence, err)
			}
			if d.Level != tt.wantLevel {
				t.Errorf("Level = %q, want %q", d.Level, tt.wantLevel)
			}
			if d.RequiresHuman != tt.requiresHuman {
				t.Errorf("RequiresHuman = %v, want %v", d.RequiresHuman, tt.requiresHuman)
			}
			if d.Confidence != tt.confidence {
				t.Errorf("Confidence = %v, want %v", d.Confidence, tt.confidence)
			}
		})
	}
}

func TestEscalation_OutOfRange(t *testing.T) {
	t.Parallel()

	e := NewEscalation()
	for _, c := range []float64{-0.1, 1.1} {
		if _, err := e.Evaluate(c, "a1", "files", "read"); err == nil {
			t.Errorf("Evaluate(%v) should fail", c)
		}
	}
}

func TestEscalation_Callbacks(t *testing.T) {
	t.Parallel()

	var notified, reviewed, approvals []float64
	record := func(dst *[]float64) EscalationCallback {
		return func(agentID, toolName, functionName string, confidence float64) {
			if agentID != "a1" || toolName != "files" || functionName != "read" {
				t.Errorf("callback got (%q, %q, %q)", agentID, toolName, functionName)
			}
			*dst = append(*dst, confidence)
		}
	}

	e := NewEscalation(
		OnNotify(record(&notified)),
		OnReview(record(&reviewed)),
		OnApproval(record(&approvals)),
	)

	for _, c := range []float64{0.95, 0.8, 0.6, 0.3} {
		if _, err := e.Evaluate(c, "a1", "files", "read"); err != nil {
			t.Fatalf("Evaluate(%v) error: %v", c, err)
		}
	}

	if len(notified) != 1 || notified[0] != 0.8 {
		t.Errorf("notify callbacks = %v, want [0.8]", notified)
	}
	if len(reviewed) != 1 || reviewed[0] != 0.6 {
		t.Errorf("review callbacks = %v, want [0.6]", reviewed)
	}
	if len(approvals) != 1 || approvals[0] != 0.3 {
		t.Errorf("approval callbacks = %v, want [0.3]", approvals)
	}
}

func TestEscalation_CustomThresholds(t *testing.T) {
	t.Parallel()

	e := NewEscalation(WithThresholds(Thresholds{High: 0.99, Medium: 0.8, Low: 0.6}))

	d, err := e.Evaluate(0.95, "a1", "files", "read")
	if err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}
	if d.Level != EscalationNotify {
		t.Errorf("Level = %q, want notify under raised thresholds", d.Level)
	}
}
