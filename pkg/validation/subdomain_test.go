package validation

import (
	"testing"
)

func TestValidateSubdomain(t *testing.T) {
	tests := []struct {
		name      string
		subdomain string
		wantErr   bool
	}{
		// Valid subdomains
		{"simple", "intratask", false},
		{"single char", "x", false},
		{"with digits", "support2", false},
		{"with hyphen", "intra-task", false},

		// Invalid subdomains - injection attempts
		{"empty", "", true},
		{"uppercase", "IntraTask", true},
		{"leading hyphen", "-intratask", true},
		{"trailing hyphen", "intratask-", true},
		{"dot injection", "evil.example.com/", true},
		{"slash injection", "evil/..", true},
		{"spaces", "intra task", true},
		{"too long", "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSubdomain(tt.subdomain)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateSubdomain(%q) error = %v, wantErr %v", tt.subdomain, err, tt.wantErr)
			}
		})
	}
}

func TestValidateTag(t *testing.T) {
	tests := []struct {
		name    string
		tag     string
		wantErr bool
	}{
		{"severity tag", "a_-_driftsstans/kritisk_feil", false},
		{"norwegian letters", "feil_på_løsning", false},
		{"plain slug", "billing", false},

		{"empty", "", true},
		{"uppercase", "Billing", true},
		{"spaces", "two words", true},
		{"query injection", "tag?admin=1", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTag(tt.tag)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateTag(%q) error = %v, wantErr %v", tt.tag, err, tt.wantErr)
			}
		})
	}
}

func TestValidateTags(t *testing.T) {
	if err := ValidateTags([]string{"billing", "login"}); err != nil {
		t.Errorf("expected valid tags, got %v", err)
	}
	if err := ValidateTags([]string{"billing", "BAD TAG"}); err == nil {
		t.Error("expected error for invalid tag in list")
	}
}
