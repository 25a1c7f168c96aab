package session

import "testing"

func TestClean(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "empty", in: "", want: ""},
		{name: "uppercases", in: "policy number", want: "POLICY NUMBER"},
		{
			name: "keeps charset",
			in:   "Form #12+3 A/B",
			want: "FORM #12+3 A/B",
		},
		{
			name: "strips punctuation and collapses whitespace",
			in:   "  Quote:\tSchedule,\n\nof  coverage!  ",
			want: "QUOTE SCHEDULE OF COVERAGE",
		},
		{
			name: "curly apostrophe dropped with other punctuation",
			in:   "INSURED’S COPY",
			want: "INSURED S COPY",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Clean(tt.in)
			if got != tt.want {
				t.Errorf("Clean(%q) = %q, want %q", tt.in, got, tt.want)
			}
			if again := Clean(got); again != got {
				t.Errorf("Clean not idempotent: %q -> %q", got, again)
			}
		})
	}
}

func TestMergeText(t *testing.T) {
	tests := []struct {
		name     string
		existing string
		incoming string
		want     string
	}{
		{name: "empty incoming keeps existing", existing: "ABC", incoming: "", want: "ABC"},
		{name: "empty existing takes incoming", existing: "", incoming: "ABC", want: "ABC"},
		{name: "identical after cleaning dedups", existing: "Policy 123", incoming: "policy  123!", want: "Policy 123"},
		{name: "incoming superset replaces", existing: "POLICY 123", incoming: "HEADER POLICY 123 FOOTER", want: "HEADER POLICY 123 FOOTER"},
		{name: "existing superset kept", existing: "HEADER POLICY 123 FOOTER", incoming: "POLICY 123", want: "HEADER POLICY 123 FOOTER"},
		{name: "distinct content concatenates", existing: "PAGE HEADER", incoming: "OCR FOOTER", want: "PAGE HEADER\nOCR FOOTER"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := mergeText(tt.existing, tt.incoming); got != tt.want {
				t.Errorf("mergeText(%q, %q) = %q, want %q", tt.existing, tt.incoming, got, tt.want)
			}
		})
	}
}
