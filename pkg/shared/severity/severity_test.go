package severity

import (
	"testing"
)

func TestLevel_Priority(t *testing.T) {
	tests := []struct {
		level    Level
		expected int
	}{
		{Critical, 4},
		{High, 3},
		{Medium, 2},
		{Low, 1},
		{Unknown, 0},
		{Level("invalid"), 0},
	}

	for _, tt := range tests {
		t.Run(string(tt.level), func(t *testing.T) {
			if got := tt.level.Priority(); got != tt.expected {
				t.Errorf("Level.Priority() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestLevel_Weight(t *testing.T) {
	tests := []struct {
		level    Level
		expected float64
	}{
		{Critical, 5},
		{High, 4},
		{Medium, 2},
		{Low, 1},
		{Unknown, 0},
	}

	for _, tt := range tests {
		t.Run(string(tt.level), func(t *testing.T) {
			if got := tt.level.Weight(); got != tt.expected {
				t.Errorf("Level.Weight() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestLevel_IsAtLeast(t *testing.T) {
	tests := []struct {
		name     string
		a, b     Level
		expected bool
	}{
		{"Critical >= Medium", Critical, Medium, true},
		{"Medium >= Medium", Medium, Medium, true},
		{"Low not >= Medium", Low, Medium, false},
		{"High not >= Critical", High, Critical, false},
		{"Unknown not >= Low", Unknown, Low, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.IsAtLeast(tt.b); got != tt.expected {
				t.Errorf("Level.IsAtLeast() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestFromString(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
	}{
		{"CRITICAL", Critical},
		{"critical", Critical},
		{" High ", High},
		{"moderate", Medium},
		{"MEDIUM", Medium},
		{"low", Low},
		{"info", Unknown},
		{"", Unknown},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := FromString(tt.input); got != tt.expected {
				t.Errorf("FromString(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestCompareAndMax(t *testing.T) {
	if Compare(Low, High) != -1 {
		t.Error("Compare(Low, High) should be -1")
	}
	if Compare(Critical, High) != 1 {
		t.Error("Compare(Critical, High) should be 1")
	}
	if Compare(Medium, Medium) != 0 {
		t.Error("Compare(Medium, Medium) should be 0")
	}
	if Max(Low, Critical) != Critical {
		t.Error("Max(Low, Critical) should be Critical")
	}
}

func TestCountBySeverity(t *testing.T) {
	var c CountBySeverity
	if c.HighestSeverity() != Unknown {
		t.Errorf("empty HighestSeverity = %v, want Unknown", c.HighestSeverity())
	}

	c.Increment(Low)
	c.Increment(High)
	c.Increment(Unknown)

	if c.Total != 3 {
		t.Errorf("Total = %d, want 3", c.Total)
	}
	if c.High != 1 || c.Low != 1 {
		t.Errorf("High=%d Low=%d, want 1/1", c.High, c.Low)
	}
	if c.HighestSeverity() != High {
		t.Errorf("HighestSeverity = %v, want High", c.HighestSeverity())
	}
}
