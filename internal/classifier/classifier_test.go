package classifier

import "testing"

func TestParseVerdict(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		raw     string
		want    Verdict
		wantErr bool
	}{
		{
			name: "clean",
			raw:  "CLEAN",
			want: Verdict{},
		},
		{
			name: "clean lowercase with whitespace",
			raw:  "  clean\n",
			want: Verdict{},
		},
		{
			name: "flagged",
			raw:  "FLAGGED|7|crypto scam link",
			want: Verdict{Flagged: true, Weight: 7, Reason: "crypto scam link"},
		},
		{
			name: "flagged with spacing",
			raw:  "flagged | 3 | mild spam",
			want: Verdict{Flagged: true, Weight: 3, Reason: "mild spam"},
		},
		{
			name:    "severity out of range",
			raw:     "FLAGGED|11|whatever",
			wantErr: true,
		},
		{
			name:    "severity not a number",
			raw:     "FLAGGED|high|whatever",
			wantErr: true,
		},
		{
			name:    "missing reason",
			raw:     "FLAGGED|5",
			wantErr: true,
		},
		{
			name:    "free-form reply",
			raw:     "I think this message is fine.",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseVerdict(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got verdict %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("verdict mismatch: got %+v, want %+v", got, tt.want)
			}
		})
	}
}
